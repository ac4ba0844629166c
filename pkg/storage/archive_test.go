package storage

import (
	"context"
	"io"
	"testing"

	"chapterwise/pkg/domain"
)

type memObjects struct {
	objects map[string]string
	types   map[string]string
}

func (m *memObjects) Put(_ context.Context, key string, r io.Reader, size int64, contentType string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if int64(len(data)) != size {
		return io.ErrShortWrite
	}
	m.objects[key] = string(data)
	m.types[key] = contentType
	return nil
}

func TestArchiveSaveChapter(t *testing.T) {
	objs := &memObjects{objects: map[string]string{}, types: map[string]string{}}
	a := NewArchive(objs)
	err := a.SaveChapter(context.Background(), domain.Chapter{BookID: "the hobbit", Order: 7, Name: " Queer Lodgings ", Content: "Bilbo woke."})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	key := "books/the%20hobbit/chapters/0007.txt"
	if got := objs.objects[key]; got != "Queer Lodgings\n\nBilbo woke." {
		t.Fatalf("object %q = %q (have %v)", key, got, objs.objects)
	}
	if objs.types[key] != "text/plain; charset=utf-8" {
		t.Fatalf("content type = %q", objs.types[key])
	}
}
