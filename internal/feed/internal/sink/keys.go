package sink

// Cache key layout shared by the writer and the reader.

func PostKey(postID string) string {
	return "post:" + postID
}

func MetadataKey(postID string) string {
	return "post:" + postID + ":metadata"
}

func AuthorPostsKey(authorID string) string {
	return "user:" + authorID + ":posts"
}

func FeedKey(userID string) string {
	return "user:" + userID + ":feed"
}

// Metadata hash fields.
const (
	fieldLastOperation = "lastOperation"
	fieldLastUpdated   = "lastUpdated"
	fieldAuthorID      = "authorId"
)
