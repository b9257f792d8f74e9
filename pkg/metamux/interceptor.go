package metamux

import (
	"strings"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
)

// EmbedInterceptor copies the Outbox contents into the header extension of
// the first RTP packet of each outgoing video frame. Packets of the same
// frame share an RTP timestamp, so a timestamp change marks the boundary.
type EmbedInterceptor struct {
	interceptor.NoOp
	Outbox *Outbox
}

func (i *EmbedInterceptor) NewInterceptor(_ string) (interceptor.Interceptor, error) { return i, nil }

// BindLocalStream modifies outgoing video RTP packets.
func (i *EmbedInterceptor) BindLocalStream(info *interceptor.StreamInfo, writer interceptor.RTPWriter) interceptor.RTPWriter {
	if !strings.HasPrefix(info.MimeType, "video/") {
		return writer
	}
	var lastTS uint32
	started := false
	return interceptor.RTPWriterFunc(func(header *rtp.Header, payload []byte, attributes interceptor.Attributes) (int, error) {
		if !started || header.Timestamp != lastTS {
			started = true
			lastTS = header.Timestamp
			if data := i.Outbox.Flush(); data != nil {
				h := *header
				if err := h.SetExtension(ExtensionID, data); err == nil {
					return writer.Write(&h, payload, attributes)
				}
			}
		}
		return writer.Write(header, payload, attributes)
	})
}

// ExtractInterceptor peels metadata off incoming video RTP packets into
// the Inbox before the depacketizer sees them.
type ExtractInterceptor struct {
	interceptor.NoOp
	Inbox *Inbox
}

func (i *ExtractInterceptor) NewInterceptor(_ string) (interceptor.Interceptor, error) { return i, nil }

// BindRemoteStream inspects incoming RTP packets.
func (i *ExtractInterceptor) BindRemoteStream(info *interceptor.StreamInfo, reader interceptor.RTPReader) interceptor.RTPReader {
	if !strings.HasPrefix(info.MimeType, "video/") {
		return reader
	}
	return interceptor.RTPReaderFunc(func(b []byte, a interceptor.Attributes) (int, interceptor.Attributes, error) {
		n, attr, err := reader.Read(b, a)
		if err != nil {
			return n, attr, err
		}
		var header rtp.Header
		if _, herr := header.Unmarshal(b[:n]); herr == nil {
			i.Inbox.ExtractFromPacket(&header)
		}
		return n, attr, err
	})
}
