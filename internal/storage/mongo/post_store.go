package mongo

import (
	"context"
	"errors"
	"fmt"

	"github.com/syntrixbase/postfeed/internal/feed/events"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ErrNotFound is returned when a post or author does not exist.
var ErrNotFound = errors.New("document not found")

// PostStore reads posts and their authors. Writes belong to the API layer;
// the feed only ever observes.
type PostStore struct {
	posts *mongo.Collection
	users *mongo.Collection
}

func NewPostStore(db *mongo.Database, postsCollection, usersCollection string) *PostStore {
	return &PostStore{
		posts: db.Collection(postsCollection),
		users: db.Collection(usersCollection),
	}
}

// Posts returns the watched collection.
func (s *PostStore) Posts() *mongo.Collection {
	return s.posts
}

// FindAuthor loads an author with the fields the feed needs.
func (s *PostStore) FindAuthor(ctx context.Context, authorID string) (*events.Author, error) {
	if authorID == "" {
		return nil, ErrNotFound
	}

	opts := options.FindOne().SetProjection(bson.M{"name": 1, "avatar": 1, "followers": 1})

	var raw bson.M
	err := s.users.FindOne(ctx, bson.M{"_id": ParseID(authorID)}, opts).Decode(&raw)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find author %s: %w", authorID, err)
	}

	return AuthorFromDocument(ConvertDocument(raw)), nil
}

// FindPost loads a post with its author joined in place of the author reference.
func (s *PostStore) FindPost(ctx context.Context, postID string) (*events.Post, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"_id": ParseID(postID)}}},
		{{Key: "$limit", Value: 1}},
		{{Key: "$lookup", Value: bson.M{
			"from":         s.users.Name(),
			"localField":   "author",
			"foreignField": "_id",
			"as":           "author",
		}}},
		{{Key: "$unwind", Value: bson.M{
			"path":                       "$author",
			"preserveNullAndEmptyArrays": true,
		}}},
	}

	cursor, err := s.posts.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to find post %s: %w", postID, err)
	}
	defer cursor.Close(ctx)

	if !cursor.Next(ctx) {
		if err := cursor.Err(); err != nil {
			return nil, fmt.Errorf("failed to find post %s: %w", postID, err)
		}
		return nil, ErrNotFound
	}

	var raw bson.M
	if err := cursor.Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode post %s: %w", postID, err)
	}

	doc := ConvertDocument(raw)
	post := &events.Post{
		ID:       postID,
		Document: doc,
	}
	if authorDoc, ok := doc["author"].(map[string]any); ok {
		post.Author = AuthorFromDocument(authorDoc)
		doc["author"] = post.Author.Summary()
	}
	return post, nil
}

// FollowerIDs returns the ids of everyone following authorID.
func (s *PostStore) FollowerIDs(ctx context.Context, authorID string) ([]string, error) {
	author, err := s.FindAuthor(ctx, authorID)
	if err != nil {
		return nil, err
	}
	return author.Followers, nil
}

// AuthorFromDocument builds an Author from a converted user document.
func AuthorFromDocument(doc map[string]any) *events.Author {
	author := &events.Author{
		ID: FormatID(doc["_id"]),
	}
	author.Name, _ = doc["name"].(string)
	author.Avatar, _ = doc["avatar"].(string)

	if followers, ok := doc["followers"].([]any); ok {
		author.Followers = make([]string, 0, len(followers))
		for _, f := range followers {
			author.Followers = append(author.Followers, FormatID(f))
		}
	}
	return author
}
