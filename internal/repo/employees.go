package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"labflow/internal/domain"
)

func scanEmployee(scan func(dest ...any) error) (domain.Employee, error) {
	var e domain.Employee
	var email, role, department sql.NullString
	err := scan(&e.ID, &e.ProjectID, &e.Name, &email, &role, &department, &e.CreatedAt, &e.UpdatedAt)
	if err == sql.ErrNoRows {
		return e, ErrNotFound
	}
	if err != nil {
		return e, err
	}
	if email.Valid {
		e.Email = email.String
	}
	if role.Valid {
		e.Role = role.String
	}
	if department.Valid {
		e.Department = department.String
	}
	return e, nil
}

func (r Repo) InsertEmployee(ctx context.Context, tx *sql.Tx, e domain.Employee) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO employees(id,project_id,name,email,role,department,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?)`,
		e.ID, e.ProjectID, e.Name, nullable(e.Email), nullable(e.Role), nullable(e.Department), e.CreatedAt, e.UpdatedAt)
	return err
}

func (r Repo) UpdateEmployee(ctx context.Context, tx *sql.Tx, e domain.Employee) error {
	res, err := tx.ExecContext(ctx, `UPDATE employees SET name=?, email=?, role=?, department=?, updated_at=? WHERE id=?`,
		e.Name, nullable(e.Email), nullable(e.Role), nullable(e.Department), e.UpdatedAt, e.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetEmployee(ctx context.Context, id string) (domain.Employee, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,project_id,name,email,role,department,created_at,updated_at FROM employees WHERE id=?`, id)
	return scanEmployee(row.Scan)
}

func (r Repo) GetEmployeeTx(ctx context.Context, tx *sql.Tx, id string) (domain.Employee, error) {
	row := tx.QueryRowContext(ctx, `SELECT id,project_id,name,email,role,department,created_at,updated_at FROM employees WHERE id=?`, id)
	return scanEmployee(row.Scan)
}

type EmployeeFilters struct {
	ProjectID  string
	Department string
	Role       string
	Limit      int
}

func (r Repo) ListEmployees(ctx context.Context, f EmployeeFilters) ([]domain.Employee, error) {
	var clauses []string
	var args []any
	if f.ProjectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, f.ProjectID)
	}
	if f.Department != "" {
		clauses = append(clauses, "department=?")
		args = append(args, f.Department)
	}
	if f.Role != "" {
		clauses = append(clauses, "role=?")
		args = append(args, f.Role)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT id,project_id,name,email,role,department,created_at,updated_at FROM employees ` + where + ` ORDER BY name ASC, id ASC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Employee
	for rows.Next() {
		e, err := scanEmployee(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func (r Repo) DeleteEmployee(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM employees WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) CountEmployees(ctx context.Context, projectID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM employees WHERE project_id=?`, projectID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count employees: %w", err)
	}
	return n, nil
}
