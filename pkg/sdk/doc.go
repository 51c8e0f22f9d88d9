// Package ragstream is a Go client for the ragstream answer service.
//
// Search streams the generated answer to a callback as it arrives:
//
//	client, _ := ragstream.New(
//	    ragstream.WithBaseURL("http://localhost:8080"),
//	    ragstream.WithAPIKey(os.Getenv("RAGSTREAM_API_KEY")),
//	)
//	res, err := client.Search(ctx, "how do I rotate keys?", "user-42",
//	    func(chunk string) error {
//	        fmt.Print(chunk)
//	        return nil
//	    })
//
// The result carries the trace id, the served variant and the pipeline
// outcome (answered, refused, no_results). A stream that the server cut
// short returns ErrStreamInterrupted after delivering the partial answer.
package ragstream
