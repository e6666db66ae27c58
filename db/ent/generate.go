//go:build ignore

// Generates typed ent clients for the registry tables into gen/ent. The
// runtime uses the squirrel repositories in internal/repository; the generated
// client is for ad-hoc tooling and migration diffs.
//
//	go run ./db/ent/generate.go
package main

import (
	"log"

	"entgo.io/ent/entc"
	"entgo.io/ent/entc/gen"
)

func main() {
	err := entc.Generate(
		"./db/ent/schema",
		&gen.Config{
			Target:   "gen/ent",
			Package:  "github.com/joseph-ayodele/docingest/gen/ent",
			Features: []gen.Feature{gen.FeatureUpsert, gen.FeatureVersionedMigration},
		},
	)
	if err != nil {
		log.Fatal(err)
	}
}
