package models

import "time"

// InviteCode — инвайт-код для регистрации. UseCount никогда не превышает MaxUses.
type InviteCode struct {
	ID        string    `json:"id"`
	Code      string    `json:"code"`
	CreatedBy string    `json:"createdBy"`
	UseCount  int       `json:"useCount"`
	MaxUses   int       `json:"maxUses"`
	CreatedAt time.Time `json:"createdAt"`
}

// Exhausted сообщает, исчерпан ли лимит использований кода.
func (c InviteCode) Exhausted() bool {
	return c.UseCount >= c.MaxUses
}
