/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package rules

import (
	"context"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/aiulian25/soundwave/internal/models"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// Engine evaluates rule definitions against the owner's track catalog.
type Engine struct {
	db     *gorm.DB
	logger zerolog.Logger
}

// New creates a rule engine instance.
func New(db *gorm.DB, logger zerolog.Logger) *Engine {
	return &Engine{db: db, logger: logger}
}

// Validate checks every rule against the field and operator whitelists and
// parses its operands. Write paths call this before touching the database so
// a bad rule set is rejected whole.
func (e *Engine) Validate(ruleSet []Rule) error {
	now := time.Now()
	for _, rule := range ruleSet {
		if _, err := compileRule(rule, now); err != nil {
			return err
		}
	}
	return nil
}

// ValidateOrdering checks the order field and direction for a definition.
func (e *Engine) ValidateOrdering(orderBy, direction string) error {
	if orderBy != "" && orderBy != models.OrderRandom {
		if _, ok := fieldTable[orderBy]; !ok {
			return &InvalidRuleError{Field: orderBy}
		}
	}
	if direction != "" && direction != DirectionAsc && direction != DirectionDesc {
		return &InvalidRuleError{Field: orderBy, Operator: direction}
	}
	return nil
}

// Evaluate returns the matching track ids in final order with the limit
// applied. Persisted rules that no longer parse are skipped with a warning;
// strictness belongs to the write path.
func (e *Engine) Evaluate(ctx context.Context, ownerID string, def Definition) ([]string, error) {
	query, empty := e.buildQuery(ctx, ownerID, def)
	if empty {
		return []string{}, nil
	}

	if def.OrderBy == models.OrderRandom {
		return e.evaluateRandom(query, def)
	}

	query = query.Order(orderClause(def.OrderBy, def.OrderDirection))
	if def.Limit != nil && *def.Limit > 0 {
		query = query.Limit(*def.Limit)
	}

	var ids []string
	if err := query.Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

// evaluateRandom materializes the full matching id set, shuffles it once, and
// caps it. One shuffle per evaluation keeps paginated reads of the same
// evaluation consistent.
func (e *Engine) evaluateRandom(query *gorm.DB, def Definition) ([]string, error) {
	var ids []string
	if err := query.Order("id").Pluck("id", &ids).Error; err != nil {
		return nil, err
	}

	seed := def.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(ids), func(i, j int) {
		ids[i], ids[j] = ids[j], ids[i]
	})

	if def.Limit != nil && *def.Limit > 0 && len(ids) > *def.Limit {
		ids = ids[:*def.Limit]
	}
	return ids, nil
}

// Count returns the number of tracks the definition yields: the raw match
// count capped by the limit. Random ordering never changes the count.
func (e *Engine) Count(ctx context.Context, ownerID string, def Definition) (int64, error) {
	query, empty := e.buildQuery(ctx, ownerID, def)
	if empty {
		return 0, nil
	}

	var count int64
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}

	if def.Limit != nil && *def.Limit > 0 && count > int64(*def.Limit) {
		count = int64(*def.Limit)
	}
	return count, nil
}

// buildQuery assembles the owner-scoped catalog query with all rule
// predicates applied. The empty flag short-circuits the ANY-with-no-predicates
// case, which yields nothing by definition, while ALL with no rules is the
// full catalog.
func (e *Engine) buildQuery(ctx context.Context, ownerID string, def Definition) (query *gorm.DB, empty bool) {
	query = e.db.WithContext(ctx).
		Model(&models.Track{}).
		Where("owner_id = ?", ownerID).
		Where("status = ?", models.TrackReady)

	now := time.Now()
	compiled := make([]predicate, 0, len(def.Rules))
	for _, rule := range def.Rules {
		pred, err := compileRule(rule, now)
		if err != nil {
			e.logger.Warn().
				Str("field", rule.Field).
				Str("operator", rule.Operator).
				Err(err).
				Msg("skipping unparsable playlist rule")
			continue
		}
		compiled = append(compiled, pred)
	}

	if def.MatchMode == models.MatchAny {
		if len(compiled) == 0 {
			return nil, true
		}
		clauses := make([]string, 0, len(compiled))
		var args []any
		for _, pred := range compiled {
			clauses = append(clauses, pred.clause)
			args = append(args, pred.args...)
		}
		return query.Where("("+strings.Join(clauses, " OR ")+")", args...), false
	}

	for _, pred := range compiled {
		query = query.Where(pred.clause, pred.args...)
	}
	return query, false
}

func orderClause(orderBy, direction string) string {
	spec, ok := fieldTable[orderBy]
	if !ok {
		// Unknown order fields fall back to newest-first.
		return "added_at DESC, id"
	}
	dir := "ASC"
	if direction == DirectionDesc {
		dir = "DESC"
	}
	// Secondary id key keeps pagination stable across ties.
	return spec.column + " " + dir + ", id"
}

// predicate is one compiled rule: a SQL fragment over literal column names
// plus its bind arguments.
type predicate struct {
	clause string
	args   []any
}

// compileRule validates a rule against the whitelists and produces its
// predicate. All failure modes are typed: unknown field/operator is an
// InvalidRuleError, an unparseable operand an InvalidRuleValueError.
func compileRule(rule Rule, now time.Time) (predicate, error) {
	spec, ok := fieldTable[rule.Field]
	if !ok {
		return predicate{}, &InvalidRuleError{Field: rule.Field}
	}
	if !operatorTable[spec.class][rule.Operator] {
		return predicate{}, &InvalidRuleError{Field: rule.Field, Operator: rule.Operator}
	}

	switch spec.class {
	case classText:
		return compileText(spec.column, rule)
	case classNumeric:
		return compileNumeric(spec.column, rule)
	case classDate:
		return compileDate(spec.column, rule, now)
	default:
		return compileBool(spec.column, rule)
	}
}

func compileText(column string, rule Rule) (predicate, error) {
	value := strings.ToLower(rule.Value)
	switch rule.Operator {
	case OpContains:
		return predicate{"LOWER(" + column + ") LIKE ?", []any{"%" + value + "%"}}, nil
	case OpNotContains:
		return predicate{"LOWER(" + column + ") NOT LIKE ?", []any{"%" + value + "%"}}, nil
	case OpEquals:
		return predicate{"LOWER(" + column + ") = ?", []any{value}}, nil
	case OpNotEquals:
		return predicate{"LOWER(" + column + ") <> ?", []any{value}}, nil
	case OpStartsWith:
		return predicate{"LOWER(" + column + ") LIKE ?", []any{value + "%"}}, nil
	case OpEndsWith:
		return predicate{"LOWER(" + column + ") LIKE ?", []any{"%" + value}}, nil
	case OpIsSet:
		return predicate{"(" + column + " IS NOT NULL AND " + column + " <> '')", nil}, nil
	default: // OpIsNotSet
		return predicate{"(" + column + " IS NULL OR " + column + " = '')", nil}, nil
	}
}

func compileNumeric(column string, rule Rule) (predicate, error) {
	value, err := parseRuleInt(rule.Field, rule.Value)
	if err != nil {
		return predicate{}, err
	}

	switch rule.Operator {
	case OpGreaterThan:
		return predicate{column + " > ?", []any{value}}, nil
	case OpLessThan:
		return predicate{column + " < ?", []any{value}}, nil
	case OpGreaterEqual:
		return predicate{column + " >= ?", []any{value}}, nil
	case OpLessEqual:
		return predicate{column + " <= ?", []any{value}}, nil
	default: // OpBetween
		value2, err := parseRuleInt(rule.Field, rule.Value2)
		if err != nil {
			return predicate{}, err
		}
		return predicate{column + " BETWEEN ? AND ?", []any{value, value2}}, nil
	}
}

func compileDate(column string, rule Rule, now time.Time) (predicate, error) {
	switch rule.Operator {
	case OpInLastDays:
		days, err := parseRuleDays(rule.Field, rule.Value)
		if err != nil {
			return predicate{}, err
		}
		return predicate{column + " >= ?", []any{now.AddDate(0, 0, -days)}}, nil
	case OpNotInLastDays:
		days, err := parseRuleDays(rule.Field, rule.Value)
		if err != nil {
			return predicate{}, err
		}
		// A track never played has not been played in the last N days.
		return predicate{"(" + column + " < ? OR " + column + " IS NULL)", []any{now.AddDate(0, 0, -days)}}, nil
	case OpBeforeDate:
		at, err := parseRuleDate(rule.Field, rule.Value)
		if err != nil {
			return predicate{}, err
		}
		return predicate{column + " < ?", []any{at}}, nil
	case OpAfterDate:
		at, err := parseRuleDate(rule.Field, rule.Value)
		if err != nil {
			return predicate{}, err
		}
		return predicate{column + " > ?", []any{at}}, nil
	case OpIsSet:
		return predicate{column + " IS NOT NULL", nil}, nil
	default: // OpIsNotSet
		return predicate{column + " IS NULL", nil}, nil
	}
}

func compileBool(column string, rule Rule) (predicate, error) {
	if rule.Operator == OpIsTrue {
		return predicate{column + " = ?", []any{true}}, nil
	}
	return predicate{column + " = ?", []any{false}}, nil
}

func parseRuleInt(field, value string) (int64, error) {
	parsed, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return 0, &InvalidRuleValueError{Field: field, Value: value}
	}
	return parsed, nil
}

func parseRuleDays(field, value string) (int, error) {
	parsed, err := parseRuleInt(field, value)
	if err != nil {
		return 0, err
	}
	if parsed < 0 {
		return 0, &InvalidRuleValueError{Field: field, Value: value}
	}
	return int(parsed), nil
}

func parseRuleDate(field, value string) (time.Time, error) {
	at, err := time.Parse("2006-01-02", strings.TrimSpace(value))
	if err != nil {
		return time.Time{}, &InvalidRuleValueError{Field: field, Value: value}
	}
	return at, nil
}
