// Package pushd exposes the server behind the pushd publishing helper. pushd
// takes page locations from an editing tool, resolves them under a local
// staging tree, refuses pages an editor has claimed, and pushes the files to
// the live web servers over FTP/FTPS, to S3-compatible buckets, or into local
// directories.
//
// # Running a server
//
//	cfg := pushd.DefaultConfig()
//	cfg.External.LocalBase = "/var/www/dev"
//	cfg.External.Hosts = []string{"web1.example.com", "web2.example.com"}
//	cfg.External.Username = "deploy"
//	cfg.Internal.Hosts = []string{"intranet.example.com"}
//	srv, stop, err := pushd.StartServer(ctx, cfg)
//	if err != nil { log.Fatal(err) }
//	defer stop(context.Background())
//
// StartServer returns once the listener is bound. NewServer plus Start gives
// the same server without the helper goroutine; Handler returns the mux for
// embedding under an existing http.Server.
//
// # Destinations
//
// Each host entry of a profile is a destination string:
//
//	web1                          FTP on the profile port, FTPS when the profile says so
//	web1:2121                     FTP on an explicit port
//	ftps://web1:990/htdocs        explicit FTPS; the URL path replaces the remote base
//	s3://minio:9000/site/live     S3-compatible bucket "site", key prefix "live"
//	file:///srv/mirror            local copy
//
// Query parameters on s3:// URLs: insecure, path-style and region. Credentials
// may be given as user info (s3://key:secret@host/bucket); otherwise the MinIO
// credential chain (environment, shared files, IAM) applies.
//
// # Endpoints
//
//	POST /api/check/locks           lock preflight for the external site
//	POST /api/check/locks-internal  lock preflight for the internal site
//	POST /api/go-live/external      publish to every external host
//	POST /api/go-live/internal      publish to the internal host
//	POST /api/promote               copy files through the promote mappings
//	POST /api/resolve               show how locations map to local paths
//	POST /api/diagnose/external     check login and remote base per host
//	GET  /api/health                effective defaults
//
// Request and response bodies are defined in pkt.systems/pushd/api.
//
// # Audit log
//
// Every publish, promote and lock check is recorded as one JSON line in
// <log-dir>/app-YYYYMMDD.log. Password fields are masked before anything is
// written or echoed to the process log.
package pushd
