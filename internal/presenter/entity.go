package presenter

import (
	"net/url"

	"task-service/internal/domain"
)

type TaskView struct {
	ID          int64    `json:"id"`
	UserID      *int64   `json:"user_id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Status      EnumView `json:"status"`
	Priority    EnumView `json:"priority"`
	DueDate     *string  `json:"due_date"`
	CreatedAt   string   `json:"created_at"`
	UpdatedAt   string   `json:"updated_at"`
}

type UserDetailView struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	Role      string `json:"role"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

type TaskList struct {
	Tasks     []TaskView `json:"tasks"`
	Paginator Paginator  `json:"paginator"`
}

type UserList struct {
	Users     []UserDetailView `json:"users"`
	Paginator Paginator        `json:"paginator"`
}

func (p *Presenter) Task(t *domain.Task) TaskView {
	view := TaskView{
		ID:          t.ID,
		UserID:      t.UserID,
		Title:       t.Title,
		Description: t.Description,
		Status:      EnumView{Key: int(t.Status), Label: t.Status.Label()},
		Priority:    EnumView{Key: int(t.Priority), Label: t.Priority.Label()},
		CreatedAt:   p.FormatDate(t.CreatedAt),
		UpdatedAt:   p.FormatDate(t.UpdatedAt),
	}
	if t.DueDate != nil {
		due := t.DueDate.Format(domain.DueDateLayout)
		view.DueDate = &due
	}
	return view
}

func (p *Presenter) Tasks(tasks []domain.Task) []TaskView {
	views := make([]TaskView, 0, len(tasks))
	for i := range tasks {
		views = append(views, p.Task(&tasks[i]))
	}
	return views
}

func (p *Presenter) User(u *domain.User) UserDetailView {
	return UserDetailView{
		ID:        u.ID,
		Name:      u.Name,
		Email:     u.Email,
		Role:      string(u.Role),
		CreatedAt: p.FormatDate(u.CreatedAt),
		UpdatedAt: p.FormatDate(u.UpdatedAt),
	}
}

func (p *Presenter) TaskList(page *domain.TaskPage, base *url.URL) TaskList {
	return TaskList{
		Tasks:     p.Tasks(page.Tasks),
		Paginator: NewPaginator(page.Paging, page.Total, base),
	}
}

func (p *Presenter) UserList(page *domain.UserPage, base *url.URL) UserList {
	users := make([]UserDetailView, 0, len(page.Users))
	for i := range page.Users {
		users = append(users, p.User(&page.Users[i]))
	}
	return UserList{
		Users:     users,
		Paginator: NewPaginator(page.Paging, page.Total, base),
	}
}
