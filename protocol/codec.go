package protocol

// Message 为一条解码后的消息
type Message struct {
	API     uint16
	Payload []byte
}

// Encoder 单帧编码。启用压缩时，payload 不小于 MinCompress 才压缩；
// 压缩后反而更大则按原文发送。
type Encoder struct {
	Compress    bool
	MinCompress int
}

// DefaultMinCompress 为默认压缩阈值
const DefaultMinCompress = 256

func NewEncoder(compress bool) *Encoder {
	return &Encoder{Compress: compress, MinCompress: DefaultMinCompress}
}

// Append 将一帧（头部 + api + body）追加到 dst
func (e *Encoder) Append(dst []byte, api uint16, payload []byte) ([]byte, error) {
	body, compressed := payload, false
	if e != nil && e.Compress && len(payload) >= e.MinCompress {
		if z := compress(nil, payload); len(z) < len(payload) {
			body, compressed = z, true
		}
	}
	out, err := AppendLenFlags(dst, len(body), compressed)
	if err != nil {
		return dst, err
	}
	out = AppendAPI(out, api)
	return append(out, body...), nil
}

// Encode 返回独立的一帧
func (e *Encoder) Encode(api uint16, payload []byte) ([]byte, error) {
	return e.Append(make([]byte, 0, MaxHeaderLen+len(payload)), api, payload)
}

// Parser 按帧解析；MaxPayload > 0 时限制单帧体积（压缩前后均检查）
type Parser struct {
	MaxPayload int
}

// DefaultMaxPayload 单帧最大负载
const DefaultMaxPayload = 16 << 20

func NewParser() *Parser { return &Parser{MaxPayload: DefaultMaxPayload} }

// Parse 尝试从 buf 解析尽可能多的完整帧；返回已消费字节数。
// 未压缩消息的 Payload 引用 buf，回调返回后不可保留。
func (p *Parser) Parse(buf []byte, onMessage func(m Message) error) (consumed int, _ error) {
	i := 0
	for {
		m, n, err := p.next(buf[i:])
		if err == ErrIncomplete {
			return i, nil
		}
		if err != nil {
			return i, err
		}
		if err := onMessage(m); err != nil {
			return i, err
		}
		i += n
	}
}

func (p *Parser) next(b []byte) (Message, int, error) {
	c, length, compressed, err := DecodeLenFlags(b)
	if err != nil {
		return Message{}, 0, err
	}
	if p.MaxPayload > 0 && length > p.MaxPayload {
		return Message{}, 0, ErrPayloadTooLarge
	}
	if len(b[c:]) < 2+length {
		return Message{}, 0, ErrIncomplete
	}
	api, _, _ := ReadAPI(b[c:])
	body := b[c+2 : c+2+length]
	if compressed {
		out, err := decompress(nil, body)
		if err != nil {
			return Message{}, 0, err
		}
		if p.MaxPayload > 0 && len(out) > p.MaxPayload {
			return Message{}, 0, ErrPayloadTooLarge
		}
		body = out
	}
	return Message{API: api, Payload: body}, c + 2 + length, nil
}
