package graph

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/graphql-go/graphql"

	"github.com/srinadh239/blogs/internal/guard"
	"github.com/srinadh239/blogs/pkg/domain"
	"github.com/srinadh239/blogs/pkg/store"
	"github.com/srinadh239/blogs/services/api/internal/app"
)

type tokenTable map[string]string

func (t tokenTable) VerifySubject(token string) (string, error) {
	if sub, ok := t[token]; ok {
		return sub, nil
	}
	return "", domain.ErrUnauthenticated
}

func newTestSchema(t *testing.T) graphql.Schema {
	t.Helper()
	svc, err := app.New(app.Config{Store: store.NewMemoryStore()})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	schema, err := NewSchema(svc, guard.New(tokenTable{"tok-a": "user-a", "tok-b": "user-b"}, nil))
	if err != nil {
		t.Fatalf("new schema: %v", err)
	}
	return schema
}

func as(token string) context.Context {
	if token == "" {
		return context.Background()
	}
	return guard.WithCredentials(context.Background(), "Bearer "+token)
}

func run(t *testing.T, schema graphql.Schema, ctx context.Context, query string, vars map[string]interface{}) map[string]interface{} {
	t.Helper()
	res := Execute(ctx, schema, Request{Query: query, Variables: vars})
	if res.HasErrors() {
		t.Fatalf("unexpected errors: %+v", res.Errors)
	}
	data, ok := res.Data.(map[string]interface{})
	if !ok {
		t.Fatalf("unexpected data %T", res.Data)
	}
	return data
}

func errorCode(t *testing.T, res *graphql.Result) string {
	t.Helper()
	if len(res.Errors) == 0 {
		t.Fatalf("expected an error, got data %+v", res.Data)
	}
	code, _ := res.Errors[0].Extensions["code"].(string)
	return code
}

const createMutation = `mutation($title: String!, $content: String!) {
	createBlogPost(title: $title, content: $content) { id authorId title createdAt }
}`

func TestCreateAndReadPost(t *testing.T) {
	schema := newTestSchema(t)
	data := run(t, schema, as("tok-a"), createMutation, map[string]interface{}{"title": "Hello", "content": "World"})
	created := data["createBlogPost"].(map[string]interface{})
	if created["authorId"] != "user-a" || created["title"] != "Hello" {
		t.Fatalf("unexpected post %+v", created)
	}

	data = run(t, schema, as(""), `query($id: String!) { getBlogPost(id: $id) { id content } }`,
		map[string]interface{}{"id": created["id"]})
	got := data["getBlogPost"].(map[string]interface{})
	if got["content"] != "World" {
		t.Fatalf("unexpected post %+v", got)
	}

	data = run(t, schema, as(""), `{ getAllBlogPosts { id } }`, nil)
	if posts := data["getAllBlogPosts"].([]interface{}); len(posts) != 1 {
		t.Fatalf("expected one post, got %d", len(posts))
	}
}

func TestProtectedFieldsRequireToken(t *testing.T) {
	schema := newTestSchema(t)
	for _, q := range []string{
		`{ getMyBlogPosts { id } }`,
		`mutation { createBlogPost(title: "T", content: "C") { id } }`,
		`mutation { deleteBlogPost(id: "x") }`,
	} {
		res := Execute(as(""), schema, Request{Query: q})
		if code := errorCode(t, res); code != CodeUnauthenticated {
			t.Fatalf("%s: expected %s, got %s", q, CodeUnauthenticated, code)
		}
		res = Execute(as("forged"), schema, Request{Query: q})
		if code := errorCode(t, res); code != CodeUnauthenticated {
			t.Fatalf("%s with bad token: expected %s, got %s", q, CodeUnauthenticated, code)
		}
	}
}

func TestNonOwnerGetsNotFoundOrForbidden(t *testing.T) {
	schema := newTestSchema(t)
	data := run(t, schema, as("tok-a"), createMutation, map[string]interface{}{"title": "T", "content": "C"})
	id := data["createBlogPost"].(map[string]interface{})["id"]

	res := Execute(as("tok-b"), schema, Request{
		Query:     `mutation($id: String!) { updateBlogPost(id: $id, title: "X", content: "Y") { id } }`,
		Variables: map[string]interface{}{"id": id},
	})
	if code := errorCode(t, res); code != CodeNotFoundOrForbidden {
		t.Fatalf("expected %s, got %s", CodeNotFoundOrForbidden, code)
	}
	res = Execute(as("tok-b"), schema, Request{
		Query:     `mutation($id: String!) { deleteBlogPost(id: $id) }`,
		Variables: map[string]interface{}{"id": id},
	})
	if code := errorCode(t, res); code != CodeNotFoundOrForbidden {
		t.Fatalf("expected %s, got %s", CodeNotFoundOrForbidden, code)
	}

	data = run(t, schema, as("tok-a"), `mutation($id: String!) { deleteBlogPost(id: $id) }`, map[string]interface{}{"id": id})
	if data["deleteBlogPost"] != true {
		t.Fatalf("owner delete returned %+v", data)
	}
}

func TestMyPostsOnlyListsCaller(t *testing.T) {
	schema := newTestSchema(t)
	run(t, schema, as("tok-a"), createMutation, map[string]interface{}{"title": "A", "content": "C"})
	run(t, schema, as("tok-b"), createMutation, map[string]interface{}{"title": "B", "content": "C"})

	data := run(t, schema, as("tok-b"), `{ getMyBlogPosts { title authorId } }`, nil)
	posts := data["getMyBlogPosts"].([]interface{})
	if len(posts) != 1 || posts[0].(map[string]interface{})["authorId"] != "user-b" {
		t.Fatalf("unexpected posts %+v", posts)
	}
}

func TestValidationErrorCarriesField(t *testing.T) {
	schema := newTestSchema(t)
	res := Execute(as("tok-a"), schema, Request{Query: createMutation, Variables: map[string]interface{}{"title": "", "content": "C"}})
	if code := errorCode(t, res); code != CodeBadUserInput {
		t.Fatalf("expected %s, got %s", CodeBadUserInput, code)
	}
	if field := res.Errors[0].Extensions["field"]; field != "title" {
		t.Fatalf("expected field title, got %v", field)
	}
	body, err := json.Marshal(res)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var wire struct {
		Errors []struct {
			Extensions map[string]string `json:"extensions"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(body, &wire); err != nil || wire.Errors[0].Extensions["code"] != CodeBadUserInput {
		t.Fatalf("extensions missing from wire format: %s", body)
	}
}

func TestHasMutation(t *testing.T) {
	if !HasMutation(`mutation { deleteBlogPost(id: "1") }`) {
		t.Fatalf("expected mutation detected")
	}
	if HasMutation(`{ getAllBlogPosts { id } }`) {
		t.Fatalf("query reported as mutation")
	}
	if HasMutation(`{ broken`) {
		t.Fatalf("unparseable document reported as mutation")
	}
}

// Documents as sent by the web client.
const (
	webCreatePost = `mutation CreatePost($title: String!, $content: String!) {
	createBlogPost(title: $title, content: $content) { id title content authorId createdAt }
}`
	webUpdatePost = `mutation UpdatePost($id: String!, $title: String!, $content: String!) {
	updateBlogPost(id: $id, title: $title, content: $content) { id title content authorId createdAt }
}`
	webDeletePost = `mutation DeletePost($id: String!) {
	deleteBlogPost(id: $id)
}`
	webMyPosts = `query GetMyPosts {
	getMyBlogPosts { id title content authorId createdAt }
}`
)

func TestWebClientDocuments(t *testing.T) {
	schema := newTestSchema(t)
	data := run(t, schema, as("tok-a"), webCreatePost, map[string]interface{}{"title": "Hello", "content": "World"})
	id := data["createBlogPost"].(map[string]interface{})["id"].(string)

	data = run(t, schema, as("tok-a"), webUpdatePost, map[string]interface{}{"id": id, "title": "Edited", "content": "Again"})
	if got := data["updateBlogPost"].(map[string]interface{})["title"]; got != "Edited" {
		t.Fatalf("unexpected title after update: %v", got)
	}

	data = run(t, schema, as("tok-a"), webMyPosts, nil)
	if mine := data["getMyBlogPosts"].([]interface{}); len(mine) != 1 {
		t.Fatalf("expected one post, got %d", len(mine))
	}

	data = run(t, schema, as("tok-a"), webDeletePost, map[string]interface{}{"id": id})
	if data["deleteBlogPost"] != true {
		t.Fatalf("expected delete to report true, got %v", data["deleteBlogPost"])
	}
}
