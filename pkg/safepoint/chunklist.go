package safepoint

// entryList stores entry builders in fixed-size chunks so that pointers
// handed out by DefineSafepoint stay valid while the list grows. The whole
// structure is dropped in one piece after Emit.
const entryChunkSize = 64

type entryList struct {
	chunks [][]entryBuilder
	size   int
}

func (l *entryList) append(e entryBuilder) *entryBuilder {
	if l.size%entryChunkSize == 0 {
		l.chunks = append(l.chunks, make([]entryBuilder, 0, entryChunkSize))
	}
	last := len(l.chunks) - 1
	l.chunks[last] = append(l.chunks[last], e)
	l.size++
	return &l.chunks[last][len(l.chunks[last])-1]
}

func (l *entryList) at(i int) *entryBuilder {
	return &l.chunks[i/entryChunkSize][i%entryChunkSize]
}

func (l *entryList) len() int {
	return l.size
}

// truncate discards entries past n. Used by duplicate removal, which
// compacts surviving entries toward the front first.
func (l *entryList) truncate(n int) {
	if n >= l.size {
		return
	}
	lastChunk := 0
	if n > 0 {
		lastChunk = (n - 1) / entryChunkSize
	}
	for i := lastChunk + 1; i < len(l.chunks); i++ {
		l.chunks[i] = nil
	}
	l.chunks = l.chunks[:lastChunk+1]
	if n == 0 {
		l.chunks = nil
	} else {
		l.chunks[lastChunk] = l.chunks[lastChunk][:n-lastChunk*entryChunkSize]
	}
	l.size = n
}
