//go:generate go run go.uber.org/mock/mockgen -source=transcript.go -destination=mocks/mock_transcript.go -package=mocks
package client

// Transcript receives every chunk of text the client should display.
type Transcript interface {
	Append(line string)
}

// TranscriptFunc adapts a function to Transcript.
type TranscriptFunc func(line string)

// Append calls f(line).
func (f TranscriptFunc) Append(line string) {
	f(line)
}
