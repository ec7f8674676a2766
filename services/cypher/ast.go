package cypher

import "strings"

// ClauseKind tags the variant of a parsed clause.
type ClauseKind int

const (
	ClauseMatch ClauseKind = iota
	ClauseOptionalMatch
	ClauseWhere
	ClauseReturn
	ClauseWith
	ClauseCallSubquery
	ClauseUnionQuery
	ClauseUnwind
	ClauseGeneric
)

// Clause is a tagged AST variant. Every clause owns its token slice;
// reconstruction is concatenation of Tokens, recursing into Body/Branches
// for the composite variants.
type Clause struct {
	Kind       ClauseKind
	Tokens     []Token    // flat token sequence for leaf clauses; "CALL {" header for CallSubquery
	Body       []Clause   // CallSubquery: the parsed body between { and }
	CloseToken *Token     // CallSubquery: the matching "}" token, if present
	Branches   [][]Clause // UnionQuery: each branch's clause list
}

// Reconstruct rebuilds the exact source text for one clause.
func (c Clause) Reconstruct() string {
	switch c.Kind {
	case ClauseCallSubquery:
		var sb strings.Builder
		sb.WriteString(Reconstruct(c.Tokens))
		for _, b := range c.Body {
			sb.WriteString(b.Reconstruct())
		}
		if c.CloseToken != nil {
			sb.WriteString(c.CloseToken.Value)
		}
		return sb.String()
	case ClauseUnionQuery:
		var sb strings.Builder
		for i, branch := range c.Branches {
			if i > 0 {
				sb.WriteString(Reconstruct(c.Tokens))
			}
			for _, cl := range branch {
				sb.WriteString(cl.Reconstruct())
			}
		}
		return sb.String()
	default:
		return Reconstruct(c.Tokens)
	}
}

// ReconstructAll rebuilds a full clause list back to source text, satisfying
// the round-trip invariant modulo whitespace normalization performed
// upstream (we operate on the raw token stream so no whitespace is lost).
func ReconstructAll(clauses []Clause) string {
	var sb strings.Builder
	for _, c := range clauses {
		sb.WriteString(c.Reconstruct())
	}
	return sb.String()
}

// Parser consumes a token stream left-to-right, dispatching on the
// upper-cased keyword at the current scope depth.
type Parser struct {
	tokens []Token
	pos    int
}

// NewParser constructs a Parser over a pre-tokenized source.
func NewParser(tokens []Token) *Parser {
	return &Parser{tokens: tokens}
}

// Parse parses tokens into a top-level clause list.
func Parse(source string) []Clause {
	p := NewParser(Tokenize(source))
	return p.parseScope(0)
}

func (p *Parser) peek() (Token, bool) {
	if p.pos >= len(p.tokens) {
		return Token{}, false
	}
	return p.tokens[p.pos], true
}

// nextSignificant returns the next non-whitespace, non-comment token without
// advancing, or ok=false at end of stream.
func (p *Parser) nextSignificant(from int) (Token, int, bool) {
	for i := from; i < len(p.tokens); i++ {
		if p.tokens[i].IsSignificant() {
			return p.tokens[i], i, true
		}
	}
	return Token{}, -1, false
}

// parseScope parses clauses until the stream ends or a closing brace would
// leave the given depth (the scope guard from spec 4.2).
func (p *Parser) parseScope(depth int) []Clause {
	var clauses []Clause
	for p.pos < len(p.tokens) {
		tok, idx, ok := p.nextSignificant(p.pos)
		if !ok {
			break
		}
		if tok.Type == TokenPunctuation && tok.Value == "}" && tok.BraceDepth == depth {
			// Closing brace for our enclosing CALL subquery: stop without consuming it,
			// the caller consumes it.
			break
		}

		kw := ""
		if tok.Type == TokenKeyword {
			kw = tok.Upper()
		}

		switch kw {
		case "CALL":
			clauses = append(clauses, p.parseCall(idx, depth))
		case "UNION":
			// Absorb a trailing UNION by folding the already-parsed clauses into
			// the first branch and continuing to parse the tail as the second.
			unionTok := p.collectUnionKeyword(idx)
			p.pos = unionTok
			tail := p.parseScope(depth)
			clauses = []Clause{{
				Kind:     ClauseUnionQuery,
				Tokens:   p.tokens[idx:unionTok],
				Branches: [][]Clause{clauses, tail},
			}}
			return clauses
		case "MATCH", "OPTIONAL":
			clauses = append(clauses, p.parseLeafClause(idx, depth, matchKind(kw, p.tokens, idx)))
		case "WHERE":
			clauses = append(clauses, p.parseLeafClause(idx, depth, ClauseWhere))
		case "RETURN":
			clauses = append(clauses, p.parseLeafClause(idx, depth, ClauseReturn))
		case "WITH":
			clauses = append(clauses, p.parseLeafClause(idx, depth, ClauseWith))
		case "UNWIND":
			clauses = append(clauses, p.parseLeafClause(idx, depth, ClauseUnwind))
		default:
			clauses = append(clauses, p.parseLeafClause(idx, depth, ClauseGeneric))
		}
	}
	return clauses
}

func matchKind(kw string, tokens []Token, idx int) ClauseKind {
	if kw == "OPTIONAL" {
		return ClauseOptionalMatch
	}
	return ClauseMatch
}

// collectUnionKeyword returns the index just past "UNION" (and an absorbed
// trailing "ALL", if present) so reconstruction preserves it verbatim.
func (p *Parser) collectUnionKeyword(unionIdx int) int {
	end := unionIdx + 1
	next, nextIdx, ok := p.nextSignificant(end)
	if ok && next.Type == TokenKeyword && next.Upper() == "ALL" {
		end = nextIdx + 1
	}
	return end
}

// parseLeafClause collects tokens from start up to (not including) the next
// keyword at the same depth, or a brace that would leave the current scope.
func (p *Parser) parseLeafClause(start, depth int, kind ClauseKind) Clause {
	i := start + 1
	for i < len(p.tokens) {
		t := p.tokens[i]
		if t.IsSignificant() {
			if t.Type == TokenKeyword && t.BraceDepth == depth && isScopeKeyword(t.Upper()) {
				break
			}
			if t.Type == TokenPunctuation && t.Value == "}" && t.BraceDepth == depth {
				break
			}
			if t.Type == TokenPunctuation && t.Value == "{" && t.BraceDepth == depth+1 {
				// A brace belonging to a nested CALL the leaf clause text references
				// (rare) — stop; CALL is handled by its own branch normally, this is
				// a defensive guard against malformed input.
				break
			}
		}
		i++
	}
	p.pos = i
	return Clause{Kind: kind, Tokens: p.tokens[start:i]}
}

func isScopeKeyword(kw string) bool {
	switch kw {
	case "MATCH", "OPTIONAL", "WHERE", "RETURN", "WITH", "CALL", "UNION", "UNWIND":
		return true
	}
	return false
}

// parseCall handles both "CALL { ... }" (recursively parsed body) and bare
// "CALL procedure.name(...)" (flat token sequence).
func (p *Parser) parseCall(start, depth int) Clause {
	brace, braceIdx, ok := p.nextSignificant(start + 1)
	if !ok || brace.Type != TokenPunctuation || brace.Value != "{" {
		// Bare procedure call: collect like any other leaf clause.
		return p.parseLeafClause(start, depth, ClauseGeneric)
	}

	p.pos = braceIdx + 1
	innerDepth := brace.BraceDepth
	body := p.parseScope(innerDepth)

	var closeTok *Token
	closeIdx := p.pos
	if closeIdx < len(p.tokens) && p.tokens[closeIdx].Type == TokenPunctuation && p.tokens[closeIdx].Value == "}" {
		t := p.tokens[closeIdx]
		closeTok = &t
		closeIdx++
	}
	p.pos = closeIdx

	return Clause{
		Kind:       ClauseCallSubquery,
		Tokens:     p.tokens[start : braceIdx+1], // "CALL {" header, body reconstructed separately
		Body:       body,
		CloseToken: closeTok,
	}
}
