package efp

// streamContext remembers the last content type and code seen on a stream so
// that fragments arriving ahead of their terminal fragment can be labelled.
type streamContext struct {
	content ContentType
	code    uint32
}

type streamKey struct {
	source uint8
	stream uint8
}

// streamTable is guarded by the Protocol mutex.
type streamTable map[streamKey]*streamContext

func (t streamTable) get(source, stream uint8) *streamContext {
	key := streamKey{source, stream}
	sc, ok := t[key]
	if !ok {
		sc = &streamContext{content: ContentUnknown, code: CodeUnknown}
		t[key] = sc
	}
	return sc
}
