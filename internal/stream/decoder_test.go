package stream_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/snow-ai/snow/internal/stream"
)

// chunkTranslator is a minimal translator for tests: each data line carries
// {"text": "..."} and becomes one ContentDelta; {"done": true} finishes.
func chunkTranslator(raw stream.RawEvent) ([]stream.Event, bool) {
	var payload struct {
		Text string `json:"text"`
		Done bool   `json:"done"`
	}
	if err := json.Unmarshal(raw.Data, &payload); err != nil {
		return nil, false
	}
	if payload.Done {
		return []stream.Event{stream.Done{}}, true
	}
	return []stream.Event{stream.ContentDelta{Text: payload.Text}}, false
}

func collect(events <-chan stream.Event, result <-chan stream.Result) ([]stream.Event, error) {
	var out []stream.Event
	for ev := range events {
		out = append(out, ev)
	}
	res := <-result
	return out, res.Err
}

var _ = Describe("Decoder", func() {
	var decoder *stream.Decoder

	BeforeEach(func() {
		decoder = stream.NewDecoder(chunkTranslator)
	})

	It("yields events in stream order and terminates on [DONE]", func() {
		input := "data: {\"text\":\"a\"}\n" +
			"data: {\"text\":\"b\"}\n" +
			"data: {\"text\":\"c\"}\n" +
			"data: [DONE]\n"

		events, result := decoder.Decode(context.Background(), strings.NewReader(input))
		out, err := collect(events, result)

		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(Equal([]stream.Event{
			stream.ContentDelta{Text: "a"},
			stream.ContentDelta{Text: "b"},
			stream.ContentDelta{Text: "c"},
			stream.Done{},
		}))
	})

	It("ignores blank lines and comment lines", func() {
		input := ": heartbeat\n" +
			"\n" +
			"data: {\"text\":\"x\"}\n" +
			": another comment\n" +
			"data: {\"done\":true}\n"

		events, result := decoder.Decode(context.Background(), strings.NewReader(input))
		out, err := collect(events, result)

		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(Equal([]stream.Event{stream.ContentDelta{Text: "x"}, stream.Done{}}))
	})

	It("passes event names to the translator", func() {
		var seen []string
		dec := stream.NewDecoder(func(raw stream.RawEvent) ([]stream.Event, bool) {
			seen = append(seen, raw.Name)
			return nil, raw.Name == "message_stop"
		})

		input := "event: message_start\n" +
			"data: {}\n" +
			"\n" +
			"event: message_stop\n" +
			"data: {}\n"

		events, result := dec.Decode(context.Background(), strings.NewReader(input))
		_, err := collect(events, result)

		Expect(err).NotTo(HaveOccurred())
		Expect(seen).To(Equal([]string{"message_start", "message_stop"}))
	})

	It("skips malformed JSON data lines without ending the stream", func() {
		input := "data: {not json\n" +
			"data: {\"text\":\"ok\"}\n" +
			"data: [DONE]\n"

		events, result := decoder.Decode(context.Background(), strings.NewReader(input))
		out, err := collect(events, result)

		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(Equal([]stream.Event{stream.ContentDelta{Text: "ok"}, stream.Done{}}))
	})

	It("fails with ErrIncomplete when the transport ends before done", func() {
		input := "data: {\"text\":\"partial\"}\n"

		events, result := decoder.Decode(context.Background(), strings.NewReader(input))
		out, err := collect(events, result)

		Expect(out).To(Equal([]stream.Event{stream.ContentDelta{Text: "partial"}}))
		Expect(errors.Is(err, stream.ErrIncomplete)).To(BeTrue())

		var incomplete *stream.IncompleteError
		Expect(errors.As(err, &incomplete)).To(BeTrue())
		Expect(incomplete.Events).To(Equal(1))
	})

	It("fails with ErrIdleTimeout when no bytes arrive", func() {
		dec := stream.NewDecoder(chunkTranslator, stream.WithIdleTimeout(50*time.Millisecond))

		pr, pw := io.Pipe()
		defer pw.Close()

		events, result := dec.Decode(context.Background(), pr)
		_, err := collect(events, result)

		Expect(errors.Is(err, stream.ErrIdleTimeout)).To(BeTrue())
	})

	It("re-arms the idle timeout on every read", func() {
		dec := stream.NewDecoder(chunkTranslator, stream.WithIdleTimeout(120*time.Millisecond))

		pr, pw := io.Pipe()
		go func() {
			defer pw.Close()
			for i := 0; i < 4; i++ {
				time.Sleep(60 * time.Millisecond)
				io.WriteString(pw, "data: {\"text\":\"t\"}\n")
			}
			io.WriteString(pw, "data: [DONE]\n")
		}()

		events, result := dec.Decode(context.Background(), pr)
		out, err := collect(events, result)

		Expect(err).NotTo(HaveOccurred())
		Expect(len(out)).To(Equal(5))
	})

	It("abandons yields on cancellation but drains the transport", func() {
		ctx, cancel := context.WithCancel(context.Background())

		pr, pw := io.Pipe()
		drained := make(chan struct{})
		go func() {
			io.WriteString(pw, "data: {\"text\":\"first\"}\n")
			cancel()
			time.Sleep(20 * time.Millisecond)
			io.WriteString(pw, "data: {\"text\":\"after-cancel\"}\n")
			pw.Close()
			close(drained)
		}()

		events, result := stream.NewDecoder(chunkTranslator).Decode(ctx, pr)
		out, err := collect(events, result)

		Eventually(drained).Should(BeClosed())
		Expect(err).To(MatchError(context.Canceled))
		for _, ev := range out {
			Expect(ev).NotTo(Equal(stream.ContentDelta{Text: "after-cancel"}))
		}
	})

	It("splits multi-byte runes across reads without mangling", func() {
		payload := "data: {\"text\":\"héllo wörld ✓\"}\ndata: [DONE]\n"

		pr, pw := io.Pipe()
		go func() {
			defer pw.Close()
			// Write byte by byte to force boundary splits inside runes.
			for i := 0; i < len(payload); i++ {
				pw.Write([]byte{payload[i]})
			}
		}()

		events, result := stream.NewDecoder(chunkTranslator).Decode(context.Background(), pr)
		out, err := collect(events, result)

		Expect(err).NotTo(HaveOccurred())
		Expect(out[0]).To(Equal(stream.ContentDelta{Text: "héllo wörld ✓"}))
	})
})
