// Package presenter shapes domain values into the JSON documents served by
// the API.
package presenter

import (
	"encoding/json"
	"net/url"
	"strconv"
	"time"

	"task-service/internal/domain"
)

// DateLayout renders timestamps as e.g. "05 March 2026 02:30 PM".
const DateLayout = "02 January 2006 03:04 PM"

type EnumView struct {
	Key   int    `json:"key"`
	Label string `json:"label"`
}

type UserView struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type AuditLogView struct {
	ID        int64           `json:"id"`
	User      *UserView       `json:"user"`
	Action    EnumView        `json:"action"`
	Entity    string          `json:"entity"`
	EntityID  int64           `json:"entity_id"`
	Changes   json.RawMessage `json:"changes"`
	CreatedAt string          `json:"created_at"`
}

type PaginatorMeta struct {
	CurrentPage int `json:"current_page"`
	PerPage     int `json:"per_page"`
	TotalItems  int `json:"total_items"`
	TotalPages  int `json:"total_pages"`
}

type PaginatorLinks struct {
	FirstPageURL string  `json:"first_page_url"`
	PrevPageURL  *string `json:"prev_page_url"`
	NextPageURL  *string `json:"next_page_url"`
	LastPageURL  string  `json:"last_page_url"`
}

type Paginator struct {
	Meta  PaginatorMeta  `json:"meta"`
	Links PaginatorLinks `json:"links"`
}

type AuditLogList struct {
	Logs      []AuditLogView `json:"logs"`
	Paginator Paginator      `json:"paginator"`
}

// Presenter formats timestamps in a fixed location.
type Presenter struct {
	loc *time.Location
}

func New(loc *time.Location) *Presenter {
	if loc == nil {
		loc = time.UTC
	}
	return &Presenter{loc: loc}
}

func (p *Presenter) FormatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.In(p.loc).Format(DateLayout)
}

func (p *Presenter) AuditLog(rec domain.AuditRecord) AuditLogView {
	view := AuditLogView{
		ID:        rec.ID,
		Action:    EnumView{Key: int(rec.Action), Label: rec.Action.Label()},
		Entity:    rec.EntityType,
		EntityID:  rec.EntityID,
		Changes:   rec.Changes,
		CreatedAt: p.FormatDate(rec.CreatedAt),
	}
	if rec.Actor != nil {
		view.User = &UserView{ID: rec.Actor.ID, Name: rec.Actor.Name, Email: rec.Actor.Email}
	}
	return view
}

// AuditLogs renders a page of records. Paginator links are built from base,
// keeping its query and replacing the paging parameters.
func (p *Presenter) AuditLogs(page *domain.AuditPage, base *url.URL) AuditLogList {
	logs := make([]AuditLogView, 0, len(page.Records))
	for _, rec := range page.Records {
		logs = append(logs, p.AuditLog(rec))
	}
	return AuditLogList{
		Logs:      logs,
		Paginator: NewPaginator(page.Filter, page.Total, base),
	}
}

// NewPaginator builds the meta and links of one page. There is always at
// least one page, even for an empty result. Filter parameters already on base
// carry over into every link.
func NewPaginator(paging domain.Paging, total int, base *url.URL) Paginator {
	paging = paging.Normalized()
	perPage := paging.PerPage
	current := paging.Page

	lastPage := (total + perPage - 1) / perPage
	if lastPage < 1 {
		lastPage = 1
	}

	pageURL := func(n int) string {
		u := url.URL{}
		if base != nil {
			u = *base
		}
		q := u.Query()
		q.Set("page", strconv.Itoa(n))
		q.Set("per_page", strconv.Itoa(perPage))
		if paging.Sort != domain.SortNone {
			q.Set("sort", string(paging.Sort))
		} else {
			q.Del("sort")
		}
		u.RawQuery = q.Encode()
		return u.String()
	}

	links := PaginatorLinks{
		FirstPageURL: pageURL(1),
		LastPageURL:  pageURL(lastPage),
	}
	if current > 1 {
		prev := pageURL(current - 1)
		links.PrevPageURL = &prev
	}
	if current < lastPage {
		next := pageURL(current + 1)
		links.NextPageURL = &next
	}

	return Paginator{
		Meta: PaginatorMeta{
			CurrentPage: current,
			PerPage:     perPage,
			TotalItems:  total,
			TotalPages:  lastPage,
		},
		Links: links,
	}
}
