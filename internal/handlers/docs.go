package handlers

import (
	"encoding/json"
	"net/http"
)

type openAPIObject = map[string]interface{}

func queryParam(name, description string, schema openAPIObject) openAPIObject {
	return openAPIObject{
		"name":        name,
		"in":          "query",
		"description": description,
		"required":    false,
		"schema":      schema,
	}
}

func jsonResponse(description, contentType string, schema openAPIObject) openAPIObject {
	return openAPIObject{
		"description": description,
		"content": openAPIObject{
			contentType: openAPIObject{"schema": schema},
		},
	}
}

var errorSchema = openAPIObject{
	"type": "object",
	"properties": openAPIObject{
		"error":   openAPIObject{"type": "string"},
		"message": openAPIObject{"type": "string"},
		"code":    openAPIObject{"type": "integer"},
	},
}

var catalogListSchema = openAPIObject{
	"type": "array",
	"items": openAPIObject{
		"type": "object",
		"properties": openAPIObject{
			"id":    openAPIObject{"type": "integer"},
			"label": openAPIObject{"type": "string"},
		},
	},
}

// OpenAPISpec returns the OpenAPI 3.0 description of the measurement read API
func OpenAPISpec(w http.ResponseWriter, r *http.Request) {
	featureSchema := openAPIObject{
		"type": "object",
		"properties": openAPIObject{
			"type": openAPIObject{"type": "string", "enum": []string{"Feature"}},
			"id":   openAPIObject{"type": "integer"},
			"geometry": openAPIObject{
				"type": "object",
				"properties": openAPIObject{
					"type":        openAPIObject{"type": "string", "enum": []string{"Point"}},
					"coordinates": openAPIObject{"type": "array", "items": openAPIObject{"type": "number"}, "description": "[longitude, latitude]"},
				},
			},
			"properties": openAPIObject{
				"type": "object",
				"properties": openAPIObject{
					"session_id": openAPIObject{"type": "integer"},
					"operator":   openAPIObject{"type": "string"},
					"timestamp":  openAPIObject{"type": "string", "description": "Naive local timestamp, no zone"},
					"signals": openAPIObject{
						"type": "array",
						"items": openAPIObject{
							"type": "object",
							"properties": openAPIObject{
								"signal_type":         openAPIObject{"type": "string"},
								"signal_strength_dbm": openAPIObject{"type": "integer"},
								"quality_flag":        openAPIObject{"type": "string"},
							},
						},
					},
					"pollutants": openAPIObject{
						"type": "array",
						"items": openAPIObject{
							"type": "object",
							"properties": openAPIObject{
								"pollutant":     openAPIObject{"type": "string"},
								"concentration": openAPIObject{"type": "string", "description": "Exact decimal"},
								"quality_flag":  openAPIObject{"type": "string"},
							},
						},
					},
				},
			},
		},
	}

	spec := openAPIObject{
		"openapi": "3.0.0",
		"info": openAPIObject{
			"title":       "Environmental Signal Platform API",
			"description": "Read API over deduplicated mobile signal and air quality measurement sessions",
			"version":     "1.0.0",
			"contact": map[string]string{
				"name": "Environmental Signal Platform Team",
			},
		},
		"servers": []map[string]string{
			{"url": "http://localhost:8080", "description": "Local development server"},
		},
		"paths": openAPIObject{
			"/api/sessions": openAPIObject{
				"get": openAPIObject{
					"summary":     "List measurement sessions",
					"description": "Sessions as a GeoJSON FeatureCollection, newest first",
					"parameters": []openAPIObject{
						queryParam("category", "4G, 5G or pollution (case-insensitive)", openAPIObject{"type": "string"}),
						queryParam("operators", "Comma-separated operator names", openAPIObject{"type": "string"}),
						queryParam("pollutants", "Comma-separated pollutant codes, used with category=pollution", openAPIObject{"type": "string"}),
						queryParam("bbox", "south,west,north,east in degrees", openAPIObject{"type": "string"}),
						queryParam("days_back", "Only sessions recorded in the last N days", openAPIObject{"type": "integer", "minimum": 1, "maximum": maxDaysBack}),
						queryParam("limit", "Maximum number of sessions", openAPIObject{"type": "integer", "default": defaultSessionLimit, "maximum": maxSessionLimit}),
					},
					"responses": openAPIObject{
						"200": jsonResponse("Successful response", "application/geo+json", openAPIObject{
							"type": "object",
							"properties": openAPIObject{
								"type":     openAPIObject{"type": "string", "enum": []string{"FeatureCollection"}},
								"features": openAPIObject{"type": "array", "items": featureSchema},
								"metadata": openAPIObject{
									"type": "object",
									"properties": openAPIObject{
										"count":    openAPIObject{"type": "integer"},
										"category": openAPIObject{"type": "string"},
										"limit":    openAPIObject{"type": "integer"},
									},
								},
							},
						}),
						"400": jsonResponse("Invalid query parameter", "application/json", errorSchema),
						"500": jsonResponse("Store failure", "application/json", errorSchema),
					},
				},
			},
			"/api/metadata": openAPIObject{
				"get": openAPIObject{
					"summary":     "List filter values",
					"description": "Active operators, signal types and pollutants",
					"responses": openAPIObject{
						"200": jsonResponse("Successful response", "application/json", openAPIObject{
							"type": "object",
							"properties": openAPIObject{
								"categories":   openAPIObject{"type": "array", "items": openAPIObject{"type": "string"}},
								"operators":    catalogListSchema,
								"signal_types": catalogListSchema,
								"pollutants":   catalogListSchema,
							},
						}),
						"500": jsonResponse("Store failure", "application/json", errorSchema),
					},
				},
			},
			"/health": openAPIObject{
				"get": openAPIObject{
					"summary":     "Health check",
					"description": "Check that the API and its database are reachable",
					"responses": openAPIObject{
						"200": jsonResponse("API is healthy", "application/json", openAPIObject{
							"type":       "object",
							"properties": openAPIObject{"status": openAPIObject{"type": "string"}},
						}),
						"503": jsonResponse("Database unreachable", "application/json", openAPIObject{
							"type":       "object",
							"properties": openAPIObject{"status": openAPIObject{"type": "string"}},
						}),
					},
				},
			},
			"/metrics": openAPIObject{
				"get": openAPIObject{
					"summary":     "Prometheus metrics",
					"description": "Prometheus metrics endpoint for monitoring",
					"responses": openAPIObject{
						"200": jsonResponse("Prometheus metrics in text format", "text/plain", openAPIObject{"type": "string"}),
					},
				},
			},
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(spec)
}
