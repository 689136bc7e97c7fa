package ai

import (
	"errors"
	"io"

	"github.com/cloudwego/eino/schema"

	"omnichat/internal/platform"
)

type fragmentStream struct {
	reader *schema.StreamReader[*schema.Message]
}

func newFragmentStream(reader *schema.StreamReader[*schema.Message]) *fragmentStream {
	return &fragmentStream{reader: reader}
}

// Recv skips chunks without text, such as tool call deltas.
func (f *fragmentStream) Recv() (platform.Fragment, error) {
	for {
		chunk, err := f.reader.Recv()
		if errors.Is(err, io.EOF) {
			return platform.Fragment{}, io.EOF
		}
		if err != nil {
			return platform.Fragment{}, err
		}
		if chunk == nil || chunk.Content == "" {
			continue
		}
		return platform.Fragment{Text: chunk.Content}, nil
	}
}

func (f *fragmentStream) Close() {
	f.reader.Close()
}

func singleFragment(text string) platform.FragmentStream {
	return newFragmentStream(schema.StreamReaderFromArray([]*schema.Message{
		{Role: schema.Assistant, Content: text},
	}))
}
