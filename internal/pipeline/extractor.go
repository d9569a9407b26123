package pipeline

import "context"

// Extractor abstracts extension-dispatched text extraction from a file path
// (PDF via Document AI, DOCX, plain text, etc.). The core only depends on
// this interface, never on a specific parser implementation, narrowed to
// the single method the pipeline actually calls.
type Extractor interface {
	Extract(ctx context.Context, filePath string) (string, error)
}
