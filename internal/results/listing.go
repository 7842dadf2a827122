package results

import (
	"sort"

	"facilitator-backend/internal/models"
)

type SortOrder string

const (
	SortDateDesc      SortOrder = "date_desc"
	SortDateAsc       SortOrder = "date_asc"
	SortResponsesDesc SortOrder = "responses_desc"
	SortResponsesAsc  SortOrder = "responses_asc"
)

func (s SortOrder) Valid() bool {
	switch s {
	case SortDateDesc, SortDateAsc, SortResponsesDesc, SortResponsesAsc:
		return true
	}
	return false
}

type ListOptions struct {
	Tag      string
	FolderID string
	Sort     SortOrder
}

type ListItem struct {
	Request       models.FeedbackRequest `json:"request"`
	ResponseCount int                    `json:"response_count"`
	NewResponses  int                    `json:"new_responses"`
}

type Listing struct {
	Active    []ListItem `json:"active"`
	Completed []ListItem `json:"completed"`
	Archived  []ListItem `json:"archived"`
	Tags      []string   `json:"tags"`
}

// Organize filters, sorts and groups requests for the dashboard.
func Organize(requests []models.FeedbackRequest, counts, fresh map[string]int, opts ListOptions) Listing {
	listing := Listing{Active: []ListItem{}, Completed: []ListItem{}, Archived: []ListItem{}, Tags: []string{}}

	seenTags := map[string]bool{}
	items := make([]ListItem, 0, len(requests))
	for _, r := range requests {
		for _, tag := range r.Tags {
			if !seenTags[tag] {
				seenTags[tag] = true
				listing.Tags = append(listing.Tags, tag)
			}
		}
		if opts.Tag != "" && !hasTag(r, opts.Tag) {
			continue
		}
		if opts.FolderID != "" && (r.FolderID == nil || *r.FolderID != opts.FolderID) {
			continue
		}
		items = append(items, ListItem{Request: r, ResponseCount: counts[r.ID], NewResponses: fresh[r.ID]})
	}
	sort.Strings(listing.Tags)

	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		switch opts.Sort {
		case SortDateAsc:
			return a.Request.CreatedAt.Before(b.Request.CreatedAt)
		case SortResponsesDesc:
			return a.ResponseCount > b.ResponseCount
		case SortResponsesAsc:
			return a.ResponseCount < b.ResponseCount
		}
		return a.Request.CreatedAt.After(b.Request.CreatedAt)
	})

	for _, item := range items {
		switch item.Request.Group() {
		case models.StatusCompleted:
			listing.Completed = append(listing.Completed, item)
		case models.StatusArchived:
			listing.Archived = append(listing.Archived, item)
		default:
			listing.Active = append(listing.Active, item)
		}
	}
	return listing
}

func hasTag(r models.FeedbackRequest, tag string) bool {
	for _, t := range r.Tags {
		if t == tag {
			return true
		}
	}
	return false
}
