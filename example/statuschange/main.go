package main

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"os"
	"time"

	"github.com/siherrmann/cohortflow"
	"github.com/siherrmann/cohortflow/helper"
	"github.com/siherrmann/cohortflow/model"
)

const kind = "GGO_status_change"

// syntheticReports draws a few dated status reports per patient, sometimes
// two on the same day.
func syntheticReports(patients int) []*model.Observation {
	r := rand.New(rand.NewSource(7))
	start := time.Date(2018, time.January, 1, 0, 0, 0, 0, time.UTC)

	var observations []*model.Observation
	for p := 0; p < patients; p++ {
		day := start.AddDate(0, 0, r.Intn(60))
		for n := 1 + r.Intn(8); n > 0; n-- {
			category := model.StatusChangeScale[r.Intn(len(model.StatusChangeScale))]
			observations = append(observations, &model.Observation{
				SubjectID:  fmt.Sprintf("patient-%03d", p),
				Kind:       kind,
				Category:   category,
				ObservedOn: day,
				Severity:   model.StatusChangeScale.Severity(category),
			})
			if r.Intn(4) > 0 {
				day = day.AddDate(0, 0, 30+r.Intn(90))
			}
		}
	}
	return observations
}

func main() {
	teardown, dbPort, err := helper.MustStartPostgresContainer()
	if err != nil {
		log.Fatalf("Failed to start PostgreSQL container: %v", err)
	}
	defer teardown(context.Background())

	dbConfig := &helper.DatabaseConfiguration{
		Host:     "localhost",
		Port:     dbPort,
		Database: "database",
		Username: "user",
		Password: "password",
		Schema:   "public",
		SSLMode:  "disable",
	}

	c, err := cohortflow.New(dbConfig)
	if err != nil {
		log.Fatalf("Failed to create cohortflow: %v", err)
	}
	defer c.Close()

	n, err := c.InsertObservations(syntheticReports(200))
	if err != nil {
		log.Fatalf("Failed to insert observations: %v", err)
	}
	fmt.Printf("Inserted %d reports\n", n)

	config := model.DefaultStatusFlowConfig()
	config.Save = true
	snapshot, err := c.StatusFlow(context.Background(), config)
	if err != nil {
		log.Fatalf("Failed to build status flow: %v", err)
	}
	fmt.Printf("Saved %s (%s): %d nodes, %d edges, %d transitions\n",
		snapshot.Name, snapshot.RID, len(snapshot.Graph.Nodes), len(snapshot.Graph.Edges), snapshot.Graph.TotalWeight())

	diagram, err := c.Render(&snapshot.Graph, "GGO status change, first 10 reports")
	if err != nil {
		log.Fatalf("Failed to render: %v", err)
	}

	f, err := os.Create("status_change.html")
	if err != nil {
		log.Fatalf("Failed to create output: %v", err)
	}
	defer f.Close()

	if err := diagram.WriteHTML(f); err != nil {
		log.Fatalf("Failed to write HTML: %v", err)
	}
	fmt.Println("Wrote status_change.html")
}
