// Package kb builds kb_document rows from a projector's output and keeps
// their embeddings current: Builder turns ProjectedViews into documents,
// ReEmbedder polls for documents whose embedding is missing or stale and
// embeds them in bounded batches.
package kb

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/retrocourt/retrocourt/internal/model"
)

// DocumentStore is the subset of *storage.DB the builder needs.
type DocumentStore interface {
	UpsertKBDocument(ctx context.Context, d model.KBDocument) error
}

// Builder turns one repo's ProjectedViews into kb_document rows and
// persists them.
type Builder struct {
	store DocumentStore
}

// New builds a Builder.
func New(store DocumentStore) *Builder {
	return &Builder{store: store}
}

// Build derives one kb_document per (work item, section) — "body" (title +
// body excerpt), "comments" (concatenated comment excerpts), and "reviews"
// (concatenated review excerpts, PRs only, omitted when there are none) —
// and upserts every one. kb_id is a stable hash of (repo, item_type,
// item_number, section), so rebuilding the same item's projection always
// reproduces the same id. The upsert rewrites the row (and its updated_at)
// every time; when the text hasn't changed its source hash is unchanged, so
// the existing embedding stays current.
func (b *Builder) Build(ctx context.Context, views model.ProjectedViews) (int, error) {
	commentsByItem := make(map[int][]model.RepoComment)
	for _, c := range views.Comments {
		commentsByItem[c.WorkItemNumber] = append(commentsByItem[c.WorkItemNumber], c)
	}
	reviewsByItem := make(map[int][]model.RepoPRReview)
	for _, r := range views.Reviews {
		reviewsByItem[r.WorkItemNumber] = append(reviewsByItem[r.WorkItemNumber], r)
	}

	var count int
	for _, item := range views.WorkItems {
		docs := b.documentsForItem(item, commentsByItem[item.Number], reviewsByItem[item.Number])
		for _, d := range docs {
			if err := b.store.UpsertKBDocument(ctx, d); err != nil {
				return count, fmt.Errorf("kb: upsert document %s: %w", d.KBID, err)
			}
			count++
		}
	}
	return count, nil
}

func (b *Builder) documentsForItem(item model.RepoWorkItem, comments []model.RepoComment, reviews []model.RepoPRReview) []model.KBDocument {
	itemType := string(item.ItemType)
	var docs []model.KBDocument

	docs = append(docs, model.KBDocument{
		KBID:         kbID(item.RepoFullName, itemType, item.Number, "body"),
		RepoFullName: item.RepoFullName,
		ItemType:     itemType,
		ItemNumber:   item.Number,
		Section:      "body",
		SourceRef:    item.NodeID,
		Text:         item.Title + "\n\n" + item.BodyExcerpt,
		Metadata:     map[string]any{"state": item.State, "labels": item.Labels, "author": item.Author},
	})

	if len(comments) > 0 {
		var sb strings.Builder
		for i, c := range comments {
			if i > 0 {
				sb.WriteString("\n---\n")
			}
			sb.WriteString(c.Author)
			sb.WriteString(": ")
			sb.WriteString(c.BodyExcerpt)
		}
		docs = append(docs, model.KBDocument{
			KBID:         kbID(item.RepoFullName, itemType, item.Number, "comments"),
			RepoFullName: item.RepoFullName,
			ItemType:     itemType,
			ItemNumber:   item.Number,
			Section:      "comments",
			SourceRef:    item.NodeID,
			Text:         sb.String(),
			Metadata:     map[string]any{"comment_count": len(comments)},
		})
	}

	if len(reviews) > 0 {
		var sb strings.Builder
		for i, r := range reviews {
			if i > 0 {
				sb.WriteString("\n---\n")
			}
			sb.WriteString(r.Author)
			sb.WriteString(" (")
			sb.WriteString(r.State)
			sb.WriteString("): ")
			sb.WriteString(r.BodyExcerpt)
		}
		docs = append(docs, model.KBDocument{
			KBID:         kbID(item.RepoFullName, itemType, item.Number, "reviews"),
			RepoFullName: item.RepoFullName,
			ItemType:     itemType,
			ItemNumber:   item.Number,
			Section:      "reviews",
			SourceRef:    item.NodeID,
			Text:         sb.String(),
			Metadata:     map[string]any{"review_count": len(reviews)},
		})
	}

	return docs
}

func kbID(repoFullName, itemType string, itemNumber int, section string) string {
	sum := sha256.Sum256([]byte(repoFullName + "\x1f" + itemType + "\x1f" + strconv.Itoa(itemNumber) + "\x1f" + section))
	return fmt.Sprintf("%s-%d-%s-%s", itemType, itemNumber, section, hex.EncodeToString(sum[:])[:12])
}
