package mockapi

import (
	"net/http"
	"strconv"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/milan604/jsonapi-client/pkg/apperr"
)

type userStore struct {
	mu    sync.RWMutex
	byID  map[int]UserInfo
	names map[string]int
	next  int
}

func newUserStore() *userStore {
	return &userStore{byID: map[int]UserInfo{}, names: map[string]int{}, next: 1}
}

func (us *userStore) put(id int, u UserInfo) {
	us.mu.Lock()
	defer us.mu.Unlock()
	us.byID[id] = u
	us.names[u.Name] = id
	if id >= us.next {
		us.next = id + 1
	}
}

// upsert replaces the user with the same name or adds a new one.
func (us *userStore) upsert(u UserInfo) int {
	us.mu.Lock()
	defer us.mu.Unlock()
	id, ok := us.names[u.Name]
	if !ok {
		id = us.next
		us.next++
		us.names[u.Name] = id
	}
	us.byID[id] = u
	return id
}

func (us *userStore) get(id int) (UserInfo, bool) {
	us.mu.RLock()
	defer us.mu.RUnlock()
	u, ok := us.byID[id]
	return u, ok
}

func (s *Server) login(c *gin.Context) {
	var creds Credentials
	if err := c.ShouldBindJSON(&creds); err != nil {
		abortWith(c, bindError(err))
		return
	}
	if !s.checkPassword(creds.Username, creds.Password) {
		abortWith(c, apperr.Newf(apperr.ErrorCodeUnauthorized, "invalid credentials"))
		return
	}
	token, err := s.tokens.issue(creds.Username)
	if err != nil {
		abortWith(c, apperr.New(apperr.ErrorCodeInternal).Wrap(err))
		return
	}
	c.JSON(http.StatusOK, LoginResponse{Token: token, ExpiresIn: int64(s.tokens.ttl.Seconds())})
}

func (s *Server) getUser(c *gin.Context) {
	var uri userURI
	if err := c.ShouldBindUri(&uri); err != nil {
		abortWith(c, bindError(err))
		return
	}
	u, ok := s.users.get(uri.ID)
	if !ok {
		abortWith(c, apperr.Newf(apperr.ErrorCodeNotFound, "user %d not found", uri.ID))
		return
	}
	c.JSON(http.StatusOK, u)
}

func (s *Server) putUser(c *gin.Context) {
	var u UserInfo
	if err := c.ShouldBindJSON(&u); err != nil {
		abortWith(c, bindError(err))
		return
	}
	id := s.users.upsert(u)
	c.Header("Location", "/users/"+strconv.Itoa(id))
	c.JSON(http.StatusOK, ResponseStatus{Success: true})
}
