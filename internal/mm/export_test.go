package mm

import "context"

var Consolidate = consolidate

func NegotiateCharset(ctx context.Context, s CharsetSetter, supported Charset) (Charset, error) {
	return negotiateCharset(ctx, s, supported)
}

func (m *Modem) UpdateState(s State) {
	m.updateState(s, ReasonUnknown)
}
