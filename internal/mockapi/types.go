package mockapi

// UserInfo is the resource served under /users.
type UserInfo struct {
	Age   int    `json:"age" binding:"gte=0,lte=150"`
	Count int    `json:"count" binding:"gte=0"`
	Name  string `json:"name" binding:"required,max=64"`
}

// ResponseStatus acknowledges a write.
type ResponseStatus struct {
	Success bool `json:"success"`
}

// Credentials is the POST /login body.
type Credentials struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse carries the issued bearer token.
type LoginResponse struct {
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expires_in"`
}

type userURI struct {
	ID int `uri:"id" binding:"gte=1"`
}
