// Package directory mirrors a tenant's departments, users and tags.
package directory

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/shawn/wecom-gateway/internal/wecom"
)

// APICaller is satisfied by *wecom.Client.
type APICaller interface {
	Do(ctx context.Context, appID string, req wecom.Request, out any) error
}

type Department struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	ParentID int64  `json:"parentid"`
	Order    int64  `json:"order"`
}

type User struct {
	UserID     string  `json:"userid"`
	Name       string  `json:"name"`
	Department []int64 `json:"department"`
	Position   string  `json:"position,omitempty"`
	Mobile     string  `json:"mobile,omitempty"`
	Email      string  `json:"email,omitempty"`
	Status     int     `json:"status"`
}

type Tag struct {
	ID   int64  `json:"tagid"`
	Name string `json:"tagname"`
}

// TagMembers is the response of tag/get.
type TagMembers struct {
	Name    string  `json:"tagname"`
	Users   []User  `json:"userlist"`
	Parties []int64 `json:"partylist"`
}

// TagResult lists the members the remote side refused. The fields are
// "|"-joined strings as returned.
type TagResult struct {
	InvalidUsers   string  `json:"invalidlist,omitempty"`
	InvalidParties []int64 `json:"invalidparty,omitempty"`
}

// Service wraps the directory endpoints. appID selects the token.
type Service struct {
	api APICaller
}

func NewService(api APICaller) *Service {
	return &Service{api: api}
}

// Departments lists the subtree under parentID, or every department when
// parentID is 0.
func (s *Service) Departments(ctx context.Context, appID string, parentID int64) ([]Department, error) {
	q := url.Values{}
	if parentID > 0 {
		q.Set("id", strconv.FormatInt(parentID, 10))
	}
	var resp struct {
		Department []Department `json:"department"`
	}
	if err := s.api.Do(ctx, appID, wecom.Request{Endpoint: "department/list", Method: http.MethodGet, Query: q}, &resp); err != nil {
		return nil, err
	}
	return resp.Department, nil
}

func (s *Service) Users(ctx context.Context, appID string, deptID int64, fetchChild bool) ([]User, error) {
	q := url.Values{"department_id": {strconv.FormatInt(deptID, 10)}}
	if fetchChild {
		q.Set("fetch_child", "1")
	}
	var resp struct {
		UserList []User `json:"userlist"`
	}
	if err := s.api.Do(ctx, appID, wecom.Request{Endpoint: "user/list", Method: http.MethodGet, Query: q}, &resp); err != nil {
		return nil, err
	}
	return resp.UserList, nil
}

func (s *Service) Tags(ctx context.Context, appID string) ([]Tag, error) {
	var resp struct {
		TagList []Tag `json:"taglist"`
	}
	if err := s.api.Do(ctx, appID, wecom.Request{Endpoint: "tag/list", Method: http.MethodGet}, &resp); err != nil {
		return nil, err
	}
	return resp.TagList, nil
}

func (s *Service) TagMembers(ctx context.Context, appID string, tagID int64) (*TagMembers, error) {
	q := url.Values{"tagid": {strconv.FormatInt(tagID, 10)}}
	var resp TagMembers
	if err := s.api.Do(ctx, appID, wecom.Request{Endpoint: "tag/get", Method: http.MethodGet, Query: q}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (s *Service) AddTagUsers(ctx context.Context, appID string, tagID int64, users []string, parties []int64) (*TagResult, error) {
	return s.tagUsers(ctx, appID, "tag/addtagusers", tagID, users, parties)
}

func (s *Service) DeleteTagUsers(ctx context.Context, appID string, tagID int64, users []string, parties []int64) (*TagResult, error) {
	return s.tagUsers(ctx, appID, "tag/deltagusers", tagID, users, parties)
}

func (s *Service) tagUsers(ctx context.Context, appID, endpoint string, tagID int64, users []string, parties []int64) (*TagResult, error) {
	if len(users) == 0 && len(parties) == 0 {
		return nil, &wecom.ValidationError{Field: "userlist", Reason: "users or parties required"}
	}
	body := map[string]any{"tagid": tagID}
	if len(users) > 0 {
		body["userlist"] = users
	}
	if len(parties) > 0 {
		body["partylist"] = parties
	}
	var resp TagResult
	if err := s.api.Do(ctx, appID, wecom.Request{Endpoint: endpoint, Method: http.MethodPost, Body: body}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
