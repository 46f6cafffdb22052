// SPDX-License-Identifier: Apache-2.0

package workflow

import "time"

const (
	StandardScanID      = "standard-scan"
	BeleidsscanWizardID = "beleidsscan-wizard"
)

// Action ids used by the built-in workflows.
const (
	ActionScanKnownSources       = "scan_known_sources"
	ActionSearchDSOGeometry      = "search_dso_geometry"
	ActionSearchIPLO             = "search_iplo"
	ActionPopulateKnowledgeGraph = "populate_knowledge_graph"
	ActionExportDocuments        = "export_documents"
	ActionQueueETLJob            = "queue_etl_job"
)

func scanStep() StepSpec {
	return StepSpec{
		ID:     "scan-known-sources",
		Name:   "Scan known sources",
		Action: ActionScanKnownSources,
		Params: []ParamMapping{
			{From: "selectedWebsites"},
			{From: "websiteData"},
			{From: "onderwerp"},
			{From: "rawDocumentsBySource"},
		},
		Timeout: 10 * time.Minute,
	}
}

func iploStep() StepSpec {
	return StepSpec{
		ID:     "search-iplo",
		Name:   "Search IPLO",
		Action: ActionSearchIPLO,
		Params: []ParamMapping{
			{From: "onderwerp", To: "query"},
			{From: "thema"},
			{From: "rawDocumentsBySource"},
			{From: "canonicalDocuments"},
		},
		BestEffort: true,
	}
}

func knowledgeGraphStep() StepSpec {
	return StepSpec{
		ID:     "populate-knowledge-graph",
		Name:   "Populate knowledge graph",
		Action: ActionPopulateKnowledgeGraph,
		Params: []ParamMapping{
			{From: "canonicalDocuments", To: "documents"},
			{From: "queryId"},
		},
		BestEffort: true,
	}
}

// Builtins returns the workflows every deployment ships with.
func Builtins() []Definition {
	return []Definition{
		{
			ID:          StandardScanID,
			Name:        "Standard scan",
			Description: "Scan the selected websites and IPLO, then populate the knowledge graph.",
			Steps:       []StepSpec{scanStep(), iploStep(), knowledgeGraphStep()},
		},
		{
			ID:          BeleidsscanWizardID,
			Name:        "Beleidsscan wizard",
			Description: "Wizard flow: resolve the DSO geometry, scan sources, populate the graph, export and hand off to ETL.",
			Steps: []StepSpec{
				{
					ID:     "dso-geometry",
					Name:   "Search DSO geometry",
					Action: ActionSearchDSOGeometry,
					Params: []ParamMapping{
						{From: "identificatie", Required: true},
						{From: "rawDocumentsBySource"},
					},
					MaxAttempts:       2,
					RollbackOnFailure: true,
				},
				scanStep(),
				iploStep(),
				knowledgeGraphStep(),
				{
					ID:     "export-documents",
					Name:   "Export documents",
					Action: ActionExportDocuments,
					Params: []ParamMapping{
						{From: "canonicalDocuments", To: "documents"},
						{From: "queryId"},
						{From: "exportFormat", To: "format", Default: "json"},
					},
					BestEffort: true,
				},
				{
					ID:     "queue-etl-job",
					Name:   "Queue ETL job",
					Action: ActionQueueETLJob,
					Params: []ParamMapping{
						{From: "canonicalDocuments", To: "documents"},
						{From: "queryId"},
						{From: "etl.includeChunks", To: "includeChunks"},
						{From: "etl.geoSource", To: "geoSource", Default: "mongo"},
					},
					BestEffort: true,
				},
			},
		},
	}
}
