// Package graph exposes the blog post operations as a GraphQL schema.
package graph

import (
	"context"
	"time"

	"github.com/graphql-go/graphql"

	"github.com/srinadh239/blogs/internal/guard"
	"github.com/srinadh239/blogs/internal/util"
	"github.com/srinadh239/blogs/pkg/domain"
)

// Service is the post logic the resolvers call.
type Service interface {
	CreatePost(ctx context.Context, title, content, principalID string) (domain.Post, error)
	GetPost(ctx context.Context, id string) (domain.Post, error)
	ListPosts(ctx context.Context) ([]domain.Post, error)
	ListMyPosts(ctx context.Context, principalID string) ([]domain.Post, error)
	UpdatePost(ctx context.Context, id, title, content, principalID string) (domain.Post, error)
	DeletePost(ctx context.Context, id, principalID string) error
}

// Protector wraps operations that require an authenticated caller.
type Protector interface {
	Protect(fn guard.Operation) guard.Operation
}

type resolvers struct {
	svc   Service
	guard Protector
}

// NewSchema builds the schema. getBlogPost and getAllBlogPosts are public;
// every other field runs behind the guard.
func NewSchema(svc Service, g Protector) (graphql.Schema, error) {
	r := &resolvers{svc: svc, guard: g}

	postType := graphql.NewObject(graphql.ObjectConfig{
		Name: "BlogPost",
		Fields: graphql.Fields{
			"id":        &graphql.Field{Type: graphql.NewNonNull(graphql.ID)},
			"title":     &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
			"content":   &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
			"authorId":  &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
			"createdAt": &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
			"updatedAt": &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
		},
	})
	helloType := graphql.NewObject(graphql.ObjectConfig{
		Name: "HelloWorld",
		Fields: graphql.Fields{
			"message": &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
		},
	})
	idArg := &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)}
	textArg := &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)}

	query := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"sayHello": &graphql.Field{
				Type: graphql.NewNonNull(helloType),
				Resolve: func(graphql.ResolveParams) (interface{}, error) {
					return map[string]interface{}{"message": "Hello World!"}, nil
				},
			},
			"getBlogPost": &graphql.Field{
				Type:    graphql.NewNonNull(postType),
				Args:    graphql.FieldConfigArgument{"id": idArg},
				Resolve: r.getPost,
			},
			"getAllBlogPosts": &graphql.Field{
				Type:    graphql.NewNonNull(graphql.NewList(graphql.NewNonNull(postType))),
				Resolve: r.listPosts,
			},
			"getMyBlogPosts": &graphql.Field{
				Type:    graphql.NewNonNull(graphql.NewList(graphql.NewNonNull(postType))),
				Resolve: r.protected(r.listMyPosts),
			},
		},
	})
	mutation := graphql.NewObject(graphql.ObjectConfig{
		Name: "Mutation",
		Fields: graphql.Fields{
			"createBlogPost": &graphql.Field{
				Type:    graphql.NewNonNull(postType),
				Args:    graphql.FieldConfigArgument{"title": textArg, "content": textArg},
				Resolve: r.protected(r.createPost),
			},
			"updateBlogPost": &graphql.Field{
				Type:    graphql.NewNonNull(postType),
				Args:    graphql.FieldConfigArgument{"id": idArg, "title": textArg, "content": textArg},
				Resolve: r.protected(r.updatePost),
			},
			"deleteBlogPost": &graphql.Field{
				Type:    graphql.NewNonNull(graphql.Boolean),
				Args:    graphql.FieldConfigArgument{"id": idArg},
				Resolve: r.protected(r.deletePost),
			},
		},
	})
	return graphql.NewSchema(graphql.SchemaConfig{Query: query, Mutation: mutation})
}

type resolveFunc func(ctx context.Context, args map[string]interface{}) (interface{}, error)

// protected runs fn behind the guard with the principal attached to ctx.
func (r *resolvers) protected(fn resolveFunc) graphql.FieldResolveFn {
	return func(p graphql.ResolveParams) (interface{}, error) {
		op := r.guard.Protect(func(ctx context.Context) (any, error) {
			return fn(ctx, p.Args)
		})
		out, err := op(p.Context)
		if err != nil {
			return nil, resolverError(p.Context, err)
		}
		return out, nil
	}
}

func (r *resolvers) getPost(p graphql.ResolveParams) (interface{}, error) {
	post, err := r.svc.GetPost(p.Context, stringArg(p.Args, "id"))
	if err != nil {
		return nil, resolverError(p.Context, err)
	}
	return postValue(post), nil
}

func (r *resolvers) listPosts(p graphql.ResolveParams) (interface{}, error) {
	posts, err := r.svc.ListPosts(p.Context)
	if err != nil {
		return nil, resolverError(p.Context, err)
	}
	return postValues(posts), nil
}

func (r *resolvers) listMyPosts(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
	posts, err := r.svc.ListMyPosts(ctx, principalID(ctx))
	if err != nil {
		return nil, err
	}
	return postValues(posts), nil
}

func (r *resolvers) createPost(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	post, err := r.svc.CreatePost(ctx, stringArg(args, "title"), stringArg(args, "content"), principalID(ctx))
	if err != nil {
		return nil, err
	}
	return postValue(post), nil
}

func (r *resolvers) updatePost(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	post, err := r.svc.UpdatePost(ctx, stringArg(args, "id"), stringArg(args, "title"), stringArg(args, "content"), principalID(ctx))
	if err != nil {
		return nil, err
	}
	return postValue(post), nil
}

func (r *resolvers) deletePost(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	if err := r.svc.DeletePost(ctx, stringArg(args, "id"), principalID(ctx)); err != nil {
		return nil, err
	}
	return true, nil
}

func resolverError(ctx context.Context, err error) error {
	gerr := toGraphQLError(err)
	if e, ok := gerr.(*Error); ok && (e.Code == CodeUpstreamFailure || e.Code == CodeInternal) {
		util.LoggerFromContext(ctx).Error("graphql resolver failed", "err", err)
	}
	return gerr
}

func principalID(ctx context.Context) string {
	p, _ := guard.PrincipalFromContext(ctx)
	return p.ID
}

func stringArg(args map[string]interface{}, name string) string {
	v, _ := args[name].(string)
	return v
}

func postValue(p domain.Post) map[string]interface{} {
	return map[string]interface{}{
		"id":        p.ID,
		"title":     p.Title,
		"content":   p.Content,
		"authorId":  p.AuthorID,
		"createdAt": p.CreatedAt.UTC().Format(time.RFC3339Nano),
		"updatedAt": p.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func postValues(posts []domain.Post) []interface{} {
	out := make([]interface{}, 0, len(posts))
	for _, p := range posts {
		out = append(out, postValue(p))
	}
	return out
}
