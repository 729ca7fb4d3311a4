package domain

// Identity é o que a camada HTTP já resolveu antes de chamar o motor.
// Autenticação é externa: UserID e Tier vêm de quem validou o token.
type Identity struct {
	UserID   string
	APIKey   string
	ClientIP string
	Method   string
	// Route é o template da rota (ex.: /orders/{id}), nunca o path cru.
	Route string
	Tier  Tier
	Class EndpointClass
	// Sensitive marca ações sujeitas à guarda de velocidade (login, reset de senha).
	Sensitive bool
}

// ClientID é o dono da cota: API key tem precedência sobre usuário.
func (id Identity) ClientID() string {
	if id.APIKey != "" {
		return "key:" + id.APIKey
	}
	if id.UserID != "" {
		return "user:" + id.UserID
	}
	return ""
}

// VelocityID identifica o alvo da guarda. Usa o usuário quando conhecido e
// senão o IP, sempre junto da rota.
func (id Identity) VelocityID() string {
	who := "ip:" + id.ClientIP
	if id.UserID != "" {
		who = "user:" + id.UserID
	}
	return who + "|" + id.Route
}

// Scope é uma chave já resolvida e o tipo de escopo que a produziu.
type Scope struct {
	Kind ScopeKind
	Key  Key
	// Fallback marca identidade ambígua: usa a política padrão mais restritiva.
	Fallback bool
}
