/*
Package jenkins is a read-only client for the Jenkins JSON API.

It fetches exactly what the reconciler consumes: the job list, a job's raw
metadata document and a job's most recent builds. Requests use Jenkins' tree
parameter so that large controllers return only the consumed fields, and the
build range syntax ({0,N}) so that the controller itself bounds the list.

	client := jenkins.NewClient(jenkins.Config{
		URL:      "https://jenkins.example.com",
		Username: "admin",
		APIToken: token,
		Timeout:  5 * time.Second,
	})
	builds, err := client.GetRecentBuilds(ctx, "build-A", 100)

Every request carries its own timeout. Transport failures and non-2xx
responses wrap ErrUnavailable (non-2xx as *APIError, which also reports the
status reason); bodies that do not decode wrap ErrMalformed. A missing job is
not an error for GetPipelineMetadata: it returns nil metadata.

Foldered jobs are addressed by slash-separated names ("team/api").
*/
package jenkins
