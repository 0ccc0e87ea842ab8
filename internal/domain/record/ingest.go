package record

import (
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// IngestionItem is the wire shape of one document in an ingestion payload.
type IngestionItem struct {
	Name      string `json:"name"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Author    string `json:"author,omitempty"`
	Specialty string `json:"specialty,omitempty"`
}

// ParseDocuments decodes an ingestion payload (a JSON array of items) into
// documents. Timestamps must be ISO-8601.
func ParseDocuments(r io.Reader) ([]Document, error) {
	var items []IngestionItem
	if err := json.NewDecoder(r).Decode(&items); err != nil {
		return nil, fmt.Errorf("decode ingestion payload: %w", err)
	}

	docs := make([]Document, 0, len(items))
	for i, item := range items {
		doc, err := item.ToDocument()
		if err != nil {
			return nil, fmt.Errorf("document %d (%s): %w", i, item.Name, err)
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// ToDocument validates and converts one ingestion item.
func (it IngestionItem) ToDocument() (Document, error) {
	if it.Name == "" {
		return Document{}, fmt.Errorf("name is required")
	}
	dt, err := ParseDocumentType(it.Type)
	if err != nil {
		return Document{}, err
	}
	ts, err := time.Parse(time.RFC3339, it.Timestamp)
	if err != nil {
		// Date-only timestamps are common in exported note sets.
		ts, err = time.Parse("2006-01-02", it.Timestamp)
		if err != nil {
			return Document{}, fmt.Errorf("invalid timestamp %q", it.Timestamp)
		}
	}
	return Document{
		Name:      it.Name,
		Type:      dt,
		Timestamp: ts,
		Author:    it.Author,
		Specialty: it.Specialty,
		Text:      it.Text,
	}, nil
}
