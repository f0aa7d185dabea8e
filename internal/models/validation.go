package models

// ValidationResult — итог проверки ключа игровым клиентом.
type ValidationResult string

const (
	ValidationInvalid ValidationResult = "invalid"
	ValidationBlocked ValidationResult = "blocked"
	ValidationExpired ValidationResult = "expired"
	ValidationSuccess ValidationResult = "success"
)

// Validation — ответ эндпоинта проверки. Game и ExpiresAt (unix ms)
// заполняются только для существующего ключа.
type Validation struct {
	Result    ValidationResult `json:"result"`
	Message   string           `json:"message"`
	Game      string           `json:"game,omitempty"`
	ExpiresAt *int64           `json:"expiresAt,omitempty"`
}
