package chunk

import "bytes"

type memSource struct {
	data []byte
}

func newMemSource(data []byte) *memSource {
	return &memSource{data: data}
}

func (m *memSource) ReadAt(p []byte, off int64) (int, error) {
	r := bytes.NewReader(m.data)
	return r.ReadAt(p, off)
}

func (m *memSource) Size() int64 {
	return int64(len(m.data))
}
