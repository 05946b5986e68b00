// Package openapi generates the OpenAPI 3.1 document describing the keygate
// HTTP API.
package openapi

import (
	"fmt"

	"github.com/getkin/kin-openapi/openapi3"
)

// Generate builds the OpenAPI document for the key management API. headerName is the
// configured credential header so the published security scheme matches the
// running server.
func Generate(baseURL, headerName, version string) *openapi3.T {
	doc := &openapi3.T{
		OpenAPI: "3.1.0",
		Info: &openapi3.Info{
			Title:       "Keygate API",
			Description: "API key issuance, scoped authorization, rotation, and audit.",
			Version:     version,
		},
		Servers: openapi3.Servers{
			{URL: baseURL},
		},
	}

	components := openapi3.NewComponents()
	components.Schemas = openapi3.Schemas{}
	components.SecuritySchemes = openapi3.SecuritySchemes{}
	doc.Components = &components

	doc.Components.SecuritySchemes["apiKey"] = &openapi3.SecuritySchemeRef{
		Value: &openapi3.SecurityScheme{
			Type: "apiKey",
			In:   "header",
			Name: headerName,
		},
	}
	doc.Security = openapi3.SecurityRequirements{
		{"apiKey": {}},
	}

	doc.Components.Schemas["ErrorResponse"] = errorResponseSchema()
	doc.Components.Schemas["APIKey"] = apiKeySchema(false)
	doc.Components.Schemas["APIKeyWithSecret"] = apiKeySchema(true)
	doc.Components.Schemas["AuditLog"] = auditLogSchema()

	doc.Paths = openapi3.NewPaths()
	addBootstrapPaths(doc)
	addKeyPaths(doc)
	addAuditPaths(doc)
	addHealthPaths(doc)

	return doc
}

func addBootstrapPaths(doc *openapi3.T) {
	doc.Paths.Set("/api/v1/bootstrap", &openapi3.PathItem{
		Get: &openapi3.Operation{
			OperationID: "bootstrapStatus",
			Summary:     "Report whether the first key has been created",
			Tags:        []string{"bootstrap"},
			Security:    &openapi3.SecurityRequirements{},
			Responses:   objectResponses(200, "Bootstrap status"),
		},
		Post: &openapi3.Operation{
			OperationID: "bootstrap",
			Summary:     "Create the master key in an empty store",
			Description: "Requires no authentication. Succeeds exactly once; returns 400 after any key exists. The plaintext secret appears only in this response.",
			Tags:        []string{"bootstrap"},
			Security:    &openapi3.SecurityRequirements{},
			Responses:   refResponses(201, "Master key with plaintext secret", "APIKeyWithSecret", 400),
		},
	})
}

func addKeyPaths(doc *openapi3.T) {
	doc.Paths.Set("/api/v1/api-keys", &openapi3.PathItem{
		Get: &openapi3.Operation{
			OperationID: "listAPIKeys",
			Summary:     "List key records, newest first",
			Tags:        []string{"api-keys"},
			Parameters: openapi3.Parameters{
				boolQueryParam("include_inactive", "Include deactivated keys"),
				intQueryParam("limit", "Maximum records to return (default 25, max 1000)"),
				intQueryParam("offset", "Number of records to skip"),
			},
			Responses: listResponses("APIKey"),
		},
		Post: &openapi3.Operation{
			OperationID: "createAPIKey",
			Summary:     "Issue a new key",
			Description: "The plaintext secret appears only in this response.",
			Tags:        []string{"api-keys"},
			RequestBody: jsonRequestBody(createKeyRequestSchema()),
			Responses:   refResponses(201, "Created key with plaintext secret", "APIKeyWithSecret", 400, 401, 429),
		},
	})

	doc.Paths.Set("/api/v1/api-keys/expiring", &openapi3.PathItem{
		Get: &openapi3.Operation{
			OperationID: "listExpiringAPIKeys",
			Summary:     "List active keys expiring within a window",
			Tags:        []string{"api-keys"},
			Parameters: openapi3.Parameters{
				intQueryParam("within_days", "Window size in days (default 7)"),
			},
			Responses: listResponses("APIKey"),
		},
	})

	doc.Paths.Set("/api/v1/api-keys/cleanup-expired", &openapi3.PathItem{
		Post: &openapi3.Operation{
			OperationID: "cleanupExpiredAPIKeys",
			Summary:     "Deactivate every key whose expiry has passed",
			Tags:        []string{"api-keys"},
			Responses:   objectResponses(200, "Number of keys deactivated"),
		},
	})

	doc.Paths.Set("/api/v1/api-keys/{keyID}", &openapi3.PathItem{
		Parameters: openapi3.Parameters{keyIDParam()},
		Get: &openapi3.Operation{
			OperationID: "getAPIKey",
			Summary:     "Fetch a key record",
			Tags:        []string{"api-keys"},
			Responses:   refResponses(200, "Key record without secret", "APIKey", 401, 404),
		},
		Patch: &openapi3.Operation{
			OperationID: "updateAPIKey",
			Summary:     "Apply a partial update to a key record",
			Tags:        []string{"api-keys"},
			RequestBody: jsonRequestBody(updateKeyRequestSchema()),
			Responses:   refResponses(200, "Updated key record", "APIKey", 400, 401, 404),
		},
		Delete: &openapi3.Operation{
			OperationID: "deleteAPIKey",
			Summary:     "Permanently remove a key",
			Description: "The key's audit history is preserved. A key cannot delete itself.",
			Tags:        []string{"api-keys"},
			Responses:   objectResponses(200, "Deletion confirmation"),
		},
	})

	doc.Paths.Set("/api/v1/api-keys/{keyID}/deactivate", &openapi3.PathItem{
		Parameters: openapi3.Parameters{keyIDParam()},
		Post: &openapi3.Operation{
			OperationID: "deactivateAPIKey",
			Summary:     "Soft-delete a key",
			Description: "The record stays in the store but can never authenticate again. A key cannot deactivate itself.",
			Tags:        []string{"api-keys"},
			Responses:   refResponses(200, "Deactivated key record", "APIKey", 400, 401, 404),
		},
	})

	doc.Paths.Set("/api/v1/api-keys/{keyID}/rotate", &openapi3.PathItem{
		Parameters: openapi3.Parameters{keyIDParam()},
		Post: &openapi3.Operation{
			OperationID: "rotateAPIKey",
			Summary:     "Replace a key with a fresh secret",
			Description: "Creates a successor carrying the same scopes, expiry, and IP restrictions, then deactivates the original. A key cannot rotate itself.",
			Tags:        []string{"api-keys"},
			Responses:   refResponses(201, "Replacement key with plaintext secret", "APIKeyWithSecret", 400, 401, 404),
		},
	})
}

func addAuditPaths(doc *openapi3.T) {
	doc.Paths.Set("/api/v1/api-keys/audit-logs", &openapi3.PathItem{
		Get: &openapi3.Operation{
			OperationID: "listAuditLogs",
			Summary:     "Query the audit ledger, newest first",
			Tags:        []string{"audit"},
			Parameters: openapi3.Parameters{
				intQueryParam("api_key_id", "Filter by subject key id"),
				stringQueryParam("action", "Filter by action (create, update, deactivate, delete, rotate, auth_success, auth_failed)"),
				stringQueryParam("since", "Inclusive lower bound, RFC 3339"),
				stringQueryParam("until", "Inclusive upper bound, RFC 3339"),
				intQueryParam("limit", "Maximum entries to return (default 50, max 1000)"),
				intQueryParam("offset", "Number of entries to skip"),
			},
			Responses: listResponses("AuditLog"),
		},
	})
}

func addHealthPaths(doc *openapi3.T) {
	for path, opID := range map[string]string{
		"/healthz": "health",
		"/readyz":  "ready",
	} {
		doc.Paths.Set(path, &openapi3.PathItem{
			Get: &openapi3.Operation{
				OperationID: opID,
				Summary:     fmt.Sprintf("%s probe", opID),
				Tags:        []string{"system"},
				Security:    &openapi3.SecurityRequirements{},
				Responses:   objectResponses(200, "Probe result"),
			},
		})
	}
}

// ---------------------------------------------------------------------------
// Component schemas
// ---------------------------------------------------------------------------

func apiKeySchema(withSecret bool) *openapi3.SchemaRef {
	props := openapi3.Schemas{
		"id":                stringOrIntProp("integer", "int64"),
		"name":              stringProp(""),
		"description":       stringProp(""),
		"scopes":            arrayProp(stringProp("")),
		"is_active":         boolProp(),
		"created_at":        stringProp("date-time"),
		"last_used_at":      stringProp("date-time"),
		"last_used_ip":      stringProp(""),
		"expires_at":        stringProp("date-time"),
		"allowed_ips":       arrayProp(stringProp("")),
		"created_by_key_id": stringOrIntProp("integer", "int64"),
	}
	if withSecret {
		s := stringProp("")
		s.Value.Description = "Plaintext secret, shown exactly once"
		props["api_key"] = s
	}
	return &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type:       &openapi3.Types{"object"},
			Properties: props,
		},
	}
}

func auditLogSchema() *openapi3.SchemaRef {
	return &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"id":           stringOrIntProp("integer", "int64"),
				"api_key_id":   stringOrIntProp("integer", "int64"),
				"action":       stringProp(""),
				"actor_key_id": stringOrIntProp("integer", "int64"),
				"source_ip":    stringProp(""),
				"details":      stringProp(""),
				"timestamp":    stringProp("date-time"),
			},
		},
	}
}

func createKeyRequestSchema() *openapi3.SchemaRef {
	return &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type:     &openapi3.Types{"object"},
			Required: []string{"name"},
			Properties: openapi3.Schemas{
				"name":        stringProp(""),
				"description": stringProp(""),
				"scopes":      arrayProp(stringProp("")),
				"expires_at":  stringProp("date-time"),
				"allowed_ips": arrayProp(stringProp("")),
			},
		},
	}
}

func updateKeyRequestSchema() *openapi3.SchemaRef {
	return &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"name":             stringProp(""),
				"description":      stringProp(""),
				"scopes":           arrayProp(stringProp("")),
				"is_active":        boolProp(),
				"expires_at":       stringProp("date-time"),
				"clear_expires_at": boolProp(),
				"allowed_ips":      arrayProp(stringProp("")),
			},
		},
	}
}

func errorResponseSchema() *openapi3.SchemaRef {
	return &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"error": &openapi3.SchemaRef{
					Value: &openapi3.Schema{
						Type: &openapi3.Types{"object"},
						Properties: openapi3.Schemas{
							"code":    stringOrIntProp("integer", "int32"),
							"message": stringProp(""),
							"context": &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"object"}}},
						},
					},
				},
			},
		},
	}
}

// ---------------------------------------------------------------------------
// Small builders
// ---------------------------------------------------------------------------

func stringProp(format string) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}, Format: format}}
}

func stringOrIntProp(typ, format string) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{typ}, Format: format}}
}

func boolProp() *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"boolean"}}}
}

func arrayProp(items *openapi3.SchemaRef) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"array"}, Items: items}}
}

func keyIDParam() *openapi3.ParameterRef {
	return &openapi3.ParameterRef{
		Value: &openapi3.Parameter{
			Name:     "keyID",
			In:       "path",
			Required: true,
			Schema:   stringOrIntProp("integer", "int64"),
		},
	}
}

func intQueryParam(name, description string) *openapi3.ParameterRef {
	return &openapi3.ParameterRef{
		Value: &openapi3.Parameter{
			Name:        name,
			In:          "query",
			Description: description,
			Schema:      stringOrIntProp("integer", "int64"),
		},
	}
}

func stringQueryParam(name, description string) *openapi3.ParameterRef {
	return &openapi3.ParameterRef{
		Value: &openapi3.Parameter{
			Name:        name,
			In:          "query",
			Description: description,
			Schema:      stringProp(""),
		},
	}
}

func boolQueryParam(name, description string) *openapi3.ParameterRef {
	return &openapi3.ParameterRef{
		Value: &openapi3.Parameter{
			Name:        name,
			In:          "query",
			Description: description,
			Schema:      boolProp(),
		},
	}
}

func jsonRequestBody(schema *openapi3.SchemaRef) *openapi3.RequestBodyRef {
	return &openapi3.RequestBodyRef{
		Value: openapi3.NewRequestBody().
			WithRequired(true).
			WithJSONSchemaRef(schema),
	}
}

// refResponses builds a response set: one success response referencing a
// component schema plus error responses referencing ErrorResponse.
func refResponses(successCode int, description, schemaName string, errorCodes ...int) *openapi3.Responses {
	responses := openapi3.NewResponses()
	responses.Set(fmt.Sprint(successCode), &openapi3.ResponseRef{
		Value: openapi3.NewResponse().
			WithDescription(description).
			WithJSONSchemaRef(&openapi3.SchemaRef{Ref: "#/components/schemas/" + schemaName}),
	})
	for _, code := range errorCodes {
		responses.Set(fmt.Sprint(code), &openapi3.ResponseRef{
			Value: openapi3.NewResponse().
				WithDescription(httpStatusDescription(code)).
				WithJSONSchemaRef(&openapi3.SchemaRef{Ref: "#/components/schemas/ErrorResponse"}),
		})
	}
	return responses
}

// listResponses builds the standard list envelope response for a component
// schema, plus the uniform 401.
func listResponses(schemaName string) *openapi3.Responses {
	envelope := &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"resource": arrayProp(&openapi3.SchemaRef{Ref: "#/components/schemas/" + schemaName}),
				"meta": &openapi3.SchemaRef{
					Value: &openapi3.Schema{
						Type: &openapi3.Types{"object"},
						Properties: openapi3.Schemas{
							"count":  stringOrIntProp("integer", "int64"),
							"total":  stringOrIntProp("integer", "int64"),
							"limit":  stringOrIntProp("integer", "int64"),
							"offset": stringOrIntProp("integer", "int64"),
						},
					},
				},
			},
		},
	}

	responses := openapi3.NewResponses()
	responses.Set("200", &openapi3.ResponseRef{
		Value: openapi3.NewResponse().WithDescription("Success").WithJSONSchemaRef(envelope),
	})
	responses.Set("401", &openapi3.ResponseRef{
		Value: openapi3.NewResponse().
			WithDescription(httpStatusDescription(401)).
			WithJSONSchemaRef(&openapi3.SchemaRef{Ref: "#/components/schemas/ErrorResponse"}),
	})
	return responses
}

// objectResponses builds a single loose-object JSON response.
func objectResponses(code int, description string) *openapi3.Responses {
	responses := openapi3.NewResponses()
	responses.Set(fmt.Sprint(code), &openapi3.ResponseRef{
		Value: openapi3.NewResponse().
			WithDescription(description).
			WithJSONSchemaRef(&openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"object"}}}),
	})
	return responses
}

func httpStatusDescription(code int) string {
	switch code {
	case 400:
		return "Invalid request"
	case 401:
		return "Invalid credentials"
	case 404:
		return "Not found"
	case 429:
		return "Rate limit exceeded"
	default:
		return "Error"
	}
}
