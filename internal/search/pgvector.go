package search

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/user/multichat/internal/types"
)

// pgvector sources keep the DSN in Endpoint and the table in IndexName.
func (s *Service) searchPG(ctx context.Context, src *types.DatabaseSource, query string) ([]Record, error) {
	db, err := s.pool(src.Endpoint)
	if err != nil {
		return nil, err
	}

	var arg any = query
	vector := src.VectorField != "" && src.EmbeddingModel != "" && s.embed != nil
	if vector {
		vec, err := s.embed.Embed(ctx, strings.TrimPrefix(src.EmbeddingModel, "azure-"), query)
		if err != nil {
			return nil, fmt.Errorf("embed query: %w", err)
		}
		arg = vectorLiteral(vec)
	}

	rows, err := db.QueryContext(ctx, pgQuery(src, vector), arg, s.top)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", src.IndexName, err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.Content, &r.Title); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	return records, nil
}

// pgQuery builds the lookup for src. With vector set it orders by cosine
// distance to $1, otherwise it filters the content column with ILIKE.
func pgQuery(src *types.DatabaseSource, vector bool) string {
	content := ident(src.ContentField)
	title := "''"
	if src.TitleField != "" {
		title = "COALESCE(" + ident(src.TitleField) + "::text, '')"
	}
	table := ident(src.IndexName)

	q := fmt.Sprintf("SELECT COALESCE(%s::text, ''), %s FROM %s", content, title, table)
	if vector {
		return q + fmt.Sprintf(" ORDER BY %s <=> $1::vector LIMIT $2", ident(src.VectorField))
	}
	return q + fmt.Sprintf(" WHERE %s::text ILIKE '%%' || $1 || '%%' LIMIT $2", content)
}

// ident quotes a possibly schema-qualified identifier.
func ident(name string) string {
	return pgx.Identifier(strings.Split(name, ".")).Sanitize()
}

func vectorLiteral(vec []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, v := range vec {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(v), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

func (s *Service) pool(dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pgvector source has no connection string")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if db, ok := s.pools[dsn]; ok {
		return db, nil
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(4)
	s.pools[dsn] = db
	return db, nil
}
