package parser

import (
	"strings"

	"github.com/tidwall/gjson"

	"github.com/usestring/trafficlab/pkg/types"
)

// drainPackets decodes newline-delimited packet objects as written by
// tshark -T ek (and single-line -T json output).
func (p *Parser) drainPackets(final bool) []types.TrafficEvent {
	var events []types.TrafficEvent
	for {
		line, ok := p.nextLine(final)
		if !ok {
			break
		}
		if len(line) == 0 {
			continue
		}
		// A pretty-printed -T json array frames packets with bare brackets
		// and trailing commas.
		line = trimArrayFraming(line)
		if len(line) == 0 {
			continue
		}
		if !gjson.ValidBytes(line) {
			p.skip("invalid packet json", len(line))
			continue
		}
		ev, ok := decodePacket(gjson.ParseBytes(line))
		if !ok {
			continue
		}
		p.stamp(&ev)
		events = append(events, ev)
	}
	return events
}

func trimArrayFraming(line []byte) []byte {
	s := strings.TrimSpace(string(line))
	s = strings.TrimSuffix(s, ",")
	if s == "[" || s == "]" {
		return nil
	}
	return []byte(s)
}

// packetLayers locates the protocol layer object for the known tshark shapes.
func packetLayers(doc gjson.Result) gjson.Result {
	return lookup(doc, "layers", "_source.layers", "packet.layers")
}

// layerField resolves one scalar tshark field inside a layer.
func layerField(layers gjson.Result, layer, name string) gjson.Result {
	return first(layerValue(layers, layer, name))
}

// layerValue resolves one tshark field inside a layer, trying the -T json
// dotted key, the -T ek flattened key, and a plain nested path. Fields that
// tshark nests one level down under an expert-info key are found too.
func layerValue(layers gjson.Result, layer, name string) gjson.Result {
	l := layers.Get(layer)
	if !l.Exists() {
		return gjson.Result{}
	}

	dotted := strings.ReplaceAll(layer+"."+name, ".", `\.`)
	ek := layer + "_" + layer + "_" + strings.ReplaceAll(name, ".", "_")
	if v := lookup(l, dotted, ek, name); v.Exists() {
		return v
	}

	var found gjson.Result
	l.ForEach(func(_, child gjson.Result) bool {
		if !child.IsObject() {
			return true
		}
		if v := lookup(child, dotted, ek); v.Exists() {
			found = v
			return false
		}
		return true
	})
	return found
}

// decodePacket promotes a packet record to an event when it carries an HTTP
// request method or response code.
func decodePacket(doc gjson.Result) (types.TrafficEvent, bool) {
	layers := packetLayers(doc)
	if !layers.Exists() {
		return types.TrafficEvent{}, false
	}
	if !layers.Get("http").Exists() {
		return types.TrafficEvent{}, false
	}

	method := strings.ToUpper(strings.TrimSpace(layerField(layers, "http", "request.method").String()))
	status := toInt(layerField(layers, "http", "response.code"))
	if method == "" && status == 0 {
		return types.TrafficEvent{}, false
	}

	ev := types.TrafficEvent{
		Method:     method,
		StatusCode: status,
		Path:       layerField(layers, "http", "request.uri").String(),
		SrcPort:    toInt(layerField(layers, "tcp", "srcport")),
		DstPort:    toInt(layerField(layers, "tcp", "dstport")),
		ByteLength: toInt(layerField(layers, "frame", "len")),
	}
	ev.ResponsePhrase = layerField(layers, "http", "response.phrase").String()

	ev.SourceIP = layerField(layers, "ip", "src").String()
	ev.DestIP = layerField(layers, "ip", "dst").String()
	if ev.SourceIP == "" {
		ev.SourceIP = layerField(layers, "ipv6", "src").String()
		ev.DestIP = layerField(layers, "ipv6", "dst").String()
	}

	ev.Timestamp = epochTime(layerField(layers, "frame", "time_epoch"))
	if ev.Timestamp.IsZero() {
		ev.Timestamp = epochTime(doc.Get("timestamp"))
	}

	if method != "" {
		ev.RequestHeaders = parseHeaders(layerValue(layers, "http", "request.line"))
	} else {
		ev.ResponseHeaders = parseHeaders(layerValue(layers, "http", "response.line"))
	}

	ev.Host = layerField(layers, "http", "host").String()
	if ev.Host == "" {
		ev.Host, _ = types.HeaderValue(ev.RequestHeaders, "Host")
	}

	if full := layerField(layers, "http", "request.full_uri").String(); full != "" {
		ev.URL = full
		scheme, host, path := splitURL(full)
		ev.Scheme = scheme
		if ev.Host == "" {
			ev.Host = host
		}
		if ev.Path == "" {
			ev.Path = path
		}
	}

	upgrade := layerField(layers, "http", "upgrade").String()
	ev.IsWebSocket = strings.EqualFold(strings.TrimSpace(upgrade), "websocket") || isWebSocketUpgrade(ev.RequestHeaders)

	return ev, true
}
