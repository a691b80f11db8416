package session

import (
	"golang.org/x/crypto/ssh"
)

// channelTransport adapts an ssh.Channel to the sftp.Transport boundary of
// §6: an ordered stream of inbound chunks, a send sink, and a close sink.
// The subsystem owns the consuming loop (§9); this type only owns the
// single goroutine that turns blocking Channel.Read calls into chunk sends.
type channelTransport struct {
	ch     ssh.Channel
	chunks chan []byte
}

func newChannelTransport(ch ssh.Channel) *channelTransport {
	t := &channelTransport{
		ch:     ch,
		chunks: make(chan []byte, 16),
	}
	go t.readLoop()
	return t
}

func (t *channelTransport) readLoop() {
	defer close(t.chunks)
	buf := make([]byte, 32*1024)
	for {
		n, err := t.ch.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			t.chunks <- chunk
		}
		if err != nil {
			return
		}
	}
}

func (t *channelTransport) Chunks() <-chan []byte { return t.chunks }

func (t *channelTransport) Send(p []byte) error {
	_, err := t.ch.Write(p)
	return err
}

func (t *channelTransport) Close() error {
	return t.ch.Close()
}
