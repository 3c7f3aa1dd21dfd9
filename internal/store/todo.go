package store

import (
	"database/sql"
	"fmt"
	"strings"
)

// Todo is one todo row. Empty optional time fields mean NULL.
type Todo struct {
	ID          int64
	Content     string
	Tag         string
	Priority    int
	Done        bool
	CreatedAt   string
	CompletedAt string
	DueAt       string
	RemindAt    string
}

// TodoUpdate holds optional field updates; nil pointers leave the column unchanged.
type TodoUpdate struct {
	Content  *string
	Tag      *string
	Priority *int
	Done     *bool
	DueAt    *string // empty string clears the column
	RemindAt *string
}

const todoColumns = "id, content, tag, priority, done, created_at, completed_at, due_at, remind_at"

// AddTodo inserts a todo and returns its id.
// A reminder without a due time is rejected, matching the tool contract.
func (s *Store) AddTodo(content, tag string, priority int, dueAt, remindAt string) (int64, error) {
	if priority < 0 {
		return 0, fmt.Errorf("priority must be >= 0, got %d", priority)
	}
	if remindAt != "" && dueAt == "" {
		return 0, fmt.Errorf("remind_at requires due_at")
	}
	res, err := s.db.Exec(
		`INSERT INTO todos (content, tag, priority, done, created_at, completed_at, due_at, remind_at)
		 VALUES (?, ?, ?, 0, ?, NULL, ?, ?)`,
		content, NormalizeTag(tag), priority, s.nowCreatedAt(), nullable(dueAt), nullable(remindAt),
	)
	if err != nil {
		return 0, fmt.Errorf("insert todo: %w", err)
	}
	return res.LastInsertId()
}

// GetTodo returns the todo with the given id, or nil when absent.
func (s *Store) GetTodo(id int64) (*Todo, error) {
	row := s.db.QueryRow("SELECT "+todoColumns+" FROM todos WHERE id = ?", id)
	todo, err := scanTodo(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get todo: %w", err)
	}
	return todo, nil
}

// ListTodos returns todos ordered by priority then id. Empty tag means all tags.
func (s *Store) ListTodos(tag string) ([]Todo, error) {
	query := "SELECT " + todoColumns + " FROM todos"
	args := []interface{}{}
	if tag != "" {
		query += " WHERE tag = ?"
		args = append(args, NormalizeTag(tag))
	}
	query += " ORDER BY priority ASC, id ASC"
	return s.queryTodos(query, args...)
}

// SearchTodos returns todos whose content contains the keyword.
func (s *Store) SearchTodos(keyword, tag string) ([]Todo, error) {
	pattern := "%" + keyword + "%"
	query := "SELECT " + todoColumns + " FROM todos WHERE content LIKE ?"
	args := []interface{}{pattern}
	if tag != "" {
		query += " AND tag = ?"
		args = append(args, NormalizeTag(tag))
	}
	query += " ORDER BY priority ASC, id ASC"
	return s.queryTodos(query, args...)
}

// UpdateTodo applies the non-nil fields of the update. Returns false when
// the todo does not exist or the update leaves a reminder without due time.
func (s *Store) UpdateTodo(id int64, update TodoUpdate) (bool, error) {
	current, err := s.GetTodo(id)
	if err != nil {
		return false, err
	}
	if current == nil {
		return false, nil
	}

	fields := []string{}
	values := []interface{}{}
	if update.Content != nil {
		fields = append(fields, "content = ?")
		values = append(values, *update.Content)
	}
	if update.Tag != nil {
		fields = append(fields, "tag = ?")
		values = append(values, NormalizeTag(*update.Tag))
	}
	if update.Priority != nil {
		if *update.Priority < 0 {
			return false, fmt.Errorf("priority must be >= 0, got %d", *update.Priority)
		}
		fields = append(fields, "priority = ?")
		values = append(values, *update.Priority)
	}
	if update.Done != nil {
		fields = append(fields, "done = ?", "completed_at = ?")
		if *update.Done {
			completedAt := current.CompletedAt
			if completedAt == "" {
				completedAt = s.nowCreatedAt()
			}
			values = append(values, 1, completedAt)
		} else {
			values = append(values, 0, nil)
		}
	}
	if update.DueAt != nil {
		fields = append(fields, "due_at = ?")
		values = append(values, nullable(*update.DueAt))
	}
	if update.RemindAt != nil {
		fields = append(fields, "remind_at = ?")
		values = append(values, nullable(*update.RemindAt))
	}
	if len(fields) == 0 {
		return false, nil
	}

	effectiveDue := current.DueAt
	if update.DueAt != nil {
		effectiveDue = *update.DueAt
	}
	effectiveRemind := current.RemindAt
	if update.RemindAt != nil {
		effectiveRemind = *update.RemindAt
	}
	if effectiveRemind != "" && effectiveDue == "" {
		return false, fmt.Errorf("remind_at requires due_at")
	}

	values = append(values, id)
	res, err := s.db.Exec("UPDATE todos SET "+strings.Join(fields, ", ")+" WHERE id = ?", values...)
	if err != nil {
		return false, fmt.Errorf("update todo: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// MarkTodoDone marks a todo complete, keeping an earlier completion time.
func (s *Store) MarkTodoDone(id int64) (bool, error) {
	res, err := s.db.Exec(
		"UPDATE todos SET done = 1, completed_at = COALESCE(completed_at, ?) WHERE id = ?",
		s.nowCreatedAt(), id,
	)
	if err != nil {
		return false, fmt.Errorf("mark todo done: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// DeleteTodo removes a todo.
func (s *Store) DeleteTodo(id int64) (bool, error) {
	res, err := s.db.Exec("DELETE FROM todos WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("delete todo: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *Store) queryTodos(query string, args ...interface{}) ([]Todo, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query todos: %w", err)
	}
	defer rows.Close()

	var todos []Todo
	for rows.Next() {
		todo, err := scanTodo(rows)
		if err != nil {
			return nil, fmt.Errorf("scan todo: %w", err)
		}
		todos = append(todos, *todo)
	}
	return todos, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTodo(row rowScanner) (*Todo, error) {
	var todo Todo
	var done int
	var completedAt, dueAt, remindAt sql.NullString
	if err := row.Scan(&todo.ID, &todo.Content, &todo.Tag, &todo.Priority, &done,
		&todo.CreatedAt, &completedAt, &dueAt, &remindAt); err != nil {
		return nil, err
	}
	todo.Done = done != 0
	todo.CompletedAt = fromNull(completedAt)
	todo.DueAt = fromNull(dueAt)
	todo.RemindAt = fromNull(remindAt)
	return &todo, nil
}
