// Package remote is a client for a Parse-compatible backend: a REST service
// storing schemaless records in named classes.
//
// A Record tracks the server's copy of its fields, one pending Operation per
// changed field, and the estimated view that results from applying those
// operations. Client.Save writes a record and every dirty record reachable
// from it, ordering writes so that references always point at saved records
// and grouping independent writes into /batch requests.
//
//	c, err := remote.New(remote.Config{AppID: "app", RESTKey: "key", ServerURL: "https://api.example.com"})
//	if err != nil {
//		return err
//	}
//	post := c.New("Post")
//	post.Set("title", "hello")
//	err = c.Save(ctx, post)
//
// Records are not safe for concurrent mutation; the Client is.
package remote
