package gcpclient

import (
	"context"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"strings"

	documentai "cloud.google.com/go/documentai/apiv1"
	"cloud.google.com/go/documentai/apiv1/documentaipb"
	"cloud.google.com/go/storage"
)

// DocumentExtractor implements pipeline.Extractor: it fetches a file's bytes
// from Cloud Storage and runs them through a Document AI OCR processor to
// recover plain text.
type DocumentExtractor struct {
	storage      *storage.Client
	docai        *documentai.DocumentProcessorClient
	processorName string // projects/{p}/locations/{l}/processors/{id}
}

// NewDocumentExtractor creates a DocumentExtractor using default credentials.
func NewDocumentExtractor(ctx context.Context, processorName string) (*DocumentExtractor, error) {
	storageClient, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("gcpclient.NewDocumentExtractor: storage client: %w", err)
	}
	docaiClient, err := documentai.NewDocumentProcessorClient(ctx)
	if err != nil {
		storageClient.Close()
		return nil, fmt.Errorf("gcpclient.NewDocumentExtractor: document ai client: %w", err)
	}
	return &DocumentExtractor{storage: storageClient, docai: docaiClient, processorName: processorName}, nil
}

// Extract downloads filePath (a gs://bucket/object URI) and OCRs it via
// Document AI, returning the recovered plain text.
func (e *DocumentExtractor) Extract(ctx context.Context, filePath string) (string, error) {
	bucket, object, err := parseGCSPath(filePath)
	if err != nil {
		return "", fmt.Errorf("gcpclient.DocumentExtractor.Extract: %w", err)
	}

	rc, err := e.storage.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return "", fmt.Errorf("gcpclient.DocumentExtractor.Extract: read %s: %w", filePath, err)
	}
	defer rc.Close()

	content, err := io.ReadAll(rc)
	if err != nil {
		return "", fmt.Errorf("gcpclient.DocumentExtractor.Extract: download %s: %w", filePath, err)
	}

	mimeType := mime.TypeByExtension(filepath.Ext(object))
	if mimeType == "" {
		mimeType = "application/pdf"
	}

	resp, err := e.docai.ProcessDocument(ctx, &documentaipb.ProcessRequest{
		Name: e.processorName,
		Source: &documentaipb.ProcessRequest_RawDocument{
			RawDocument: &documentaipb.RawDocument{Content: content, MimeType: mimeType},
		},
	})
	if err != nil {
		return "", fmt.Errorf("gcpclient.DocumentExtractor.Extract: process %s: %w", filePath, err)
	}
	return resp.GetDocument().GetText(), nil
}

// Close releases the underlying gRPC clients.
func (e *DocumentExtractor) Close() {
	e.storage.Close()
	e.docai.Close()
}

func parseGCSPath(filePath string) (bucket, object string, err error) {
	const prefix = "gs://"
	if !strings.HasPrefix(filePath, prefix) {
		return "", "", fmt.Errorf("expected a gs:// path, got %q", filePath)
	}
	rest := strings.TrimPrefix(filePath, prefix)
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("malformed gs:// path %q", filePath)
	}
	return parts[0], parts[1], nil
}
