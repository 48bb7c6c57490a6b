package domain

import "time"

// Role identifica al emisor de un mensaje. Enum cerrado: user o model.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Valid reporta si el rol es uno de los dos reconocidos.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleModel
}

// Message es un turno individual dentro de una conversacion. Inmutable una vez
// agregado; Content es el texto completo del turno, no un fragmento.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Conversation es una secuencia ordenada de mensajes con identidad estable.
// Append-only: el orden de insercion define el orden conversacional.
type Conversation struct {
	ID        string    `json:"id"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
}

// GenerationConfig agrupa los knobs opcionales que se pasan tal cual al
// proveedor. El valor cero significa usar los defaults del proveedor.
type GenerationConfig struct {
	Temperature     *float32 `json:"temperature,omitempty"`
	TopP            *float32 `json:"top_p,omitempty"`
	TopK            *int     `json:"top_k,omitempty"`
	MaxOutputTokens *int     `json:"max_output_tokens,omitempty"`
}

// Exchange es el resultado de un turno completo: el id resuelto de la
// conversacion y el texto generado por el modelo.
type Exchange struct {
	ConversationID string `json:"conversation_id"`
	Text           string `json:"text"`
}
