package models

type VerificationData struct {
	ClientSeed     string `json:"client_seed"`
	ServerHash     string `json:"server_hash"`
	NextServerHash string `json:"next_server_hash"`
	CurrentNonce   int64  `json:"current_nonce"`
}

type RotateSeedRequest struct {
	ClientSeed string `json:"client_seed" binding:"omitempty,max=64"`
}

type VerifyRequest struct {
	ServerSeed string   `json:"server_seed" binding:"required"`
	ClientSeed string   `json:"client_seed" binding:"required"`
	Nonce      int64    `json:"nonce" binding:"min=0"`
	Cursor     int      `json:"cursor" binding:"min=0"`
	Mode       string   `json:"mode"`
	GameKind   string   `json:"game_kind"`
	Expected   *float64 `json:"expected"`
}

type VerifyResponse struct {
	Value          float64 `json:"value"`
	Hash           string  `json:"hash"`
	ServerSeedHash string  `json:"server_seed_hash"`
	Valid          *bool   `json:"valid,omitempty"`
}
