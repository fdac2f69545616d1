package domain

import "time"

// Market es un mercado binario de Polymarket tal como lo describe Gamma.
type Market struct {
	ConditionID string
	Question    string
	Slug        string
	StartDate   time.Time
	EndDate     time.Time
	Tokens      [2]Token // [0] = YES/Up, [1] = NO/Down, en el orden de clobTokenIds
	Active      bool
	Closed      bool
	NegRisk     bool
}

// Token es uno de los dos lados del mercado.
type Token struct {
	TokenID string
	Outcome string // "Up" | "Down" | "Yes" | "No"
}

// YesToken devuelve el primer token (YES / Up).
func (m Market) YesToken() Token { return m.Tokens[0] }

// NoToken devuelve el segundo token (NO / Down).
func (m Market) NoToken() Token { return m.Tokens[1] }

// HasTokens indica si ambos token IDs están presentes.
func (m Market) HasTokens() bool {
	return m.Tokens[0].TokenID != "" && m.Tokens[1].TokenID != ""
}

// Session convierte el mercado en una sesión de trading con los límites dados.
func (m Market) Session(id string, start, end time.Time) Session {
	return Session{
		ID:       id,
		Slug:     m.Slug,
		Question: m.Question,
		YesID:    m.Tokens[0].TokenID,
		NoID:     m.Tokens[1].TokenID,
		Start:    start,
		End:      end,

		ConditionID: m.ConditionID,
		NegRisk:     m.NegRisk,
	}
}

// TruncateQuestion devuelve la pregunta truncada a maxLen caracteres.
// Si está vacía usa el slug como fallback.
func TruncateQuestion(question, slug string, maxLen int) string {
	q := question
	if q == "" {
		q = slug
	}
	if len(q) > maxLen {
		q = q[:maxLen-3] + "..."
	}
	return q
}
