// Package docs holds the swagger document served under /swagger/. It is
// maintained by hand in the layout swag init produces; keep it in step with
// the @ annotations in internal/api/handler.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/download/{jobID}/{filename}": {
            "get": {
                "description": "Download an export written for a report job",
                "produces": ["application/octet-stream"],
                "tags": ["files"],
                "summary": "Download file",
                "parameters": [
                    {"type": "string", "description": "Job ID", "name": "jobID", "in": "path", "required": true},
                    {"type": "string", "description": "File name", "name": "filename", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "File download", "schema": {"type": "file"}},
                    "404": {"description": "File not found", "schema": {"type": "object", "additionalProperties": true}}
                }
            }
        },
        "/reports": {
            "get": {
                "produces": ["application/json"],
                "tags": ["reports"],
                "summary": "List report jobs",
                "responses": {
                    "200": {"description": "List of report jobs", "schema": {"type": "array", "items": {"$ref": "#/definitions/model.JobInfo"}}},
                    "500": {"description": "Internal server error", "schema": {"type": "object", "additionalProperties": true}}
                }
            },
            "post": {
                "description": "Validate the job, store it and start collecting in the background",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["reports"],
                "summary": "Create a new report job",
                "parameters": [
                    {"description": "Report job configuration", "name": "report", "in": "body", "required": true, "schema": {"$ref": "#/definitions/model.ReportJobSpec"}}
                ],
                "responses": {
                    "202": {"description": "Report job accepted", "schema": {"type": "object", "additionalProperties": true}},
                    "400": {"description": "Invalid request payload", "schema": {"type": "object", "additionalProperties": true}},
                    "500": {"description": "Internal server error", "schema": {"type": "object", "additionalProperties": true}}
                }
            }
        },
        "/reports/{id}": {
            "get": {
                "produces": ["application/json"],
                "tags": ["reports"],
                "summary": "Get report job",
                "parameters": [
                    {"type": "string", "description": "Report job ID", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "Report job", "schema": {"$ref": "#/definitions/model.JobInfo"}},
                    "404": {"description": "Report job not found", "schema": {"type": "object", "additionalProperties": true}}
                }
            },
            "delete": {
                "produces": ["application/json"],
                "tags": ["reports"],
                "summary": "Delete report job",
                "parameters": [
                    {"type": "string", "description": "Report job ID", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "Report job deleted", "schema": {"type": "object", "additionalProperties": true}},
                    "404": {"description": "Report job not found", "schema": {"type": "object", "additionalProperties": true}},
                    "409": {"description": "Report job still running", "schema": {"type": "object", "additionalProperties": true}},
                    "500": {"description": "Internal server error", "schema": {"type": "object", "additionalProperties": true}}
                }
            }
        },
        "/reports/{id}/cancel": {
            "patch": {
                "description": "Cancel a running job. Summaries of streams that already finished are kept.",
                "produces": ["application/json"],
                "tags": ["reports"],
                "summary": "Cancel report job",
                "parameters": [
                    {"type": "string", "description": "Report job ID", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "Cancellation requested", "schema": {"type": "object", "additionalProperties": true}},
                    "404": {"description": "Report job not found", "schema": {"type": "object", "additionalProperties": true}},
                    "409": {"description": "Report job already finished", "schema": {"type": "object", "additionalProperties": true}}
                }
            }
        },
        "/reports/{id}/errors": {
            "get": {
                "produces": ["application/json"],
                "tags": ["reports"],
                "summary": "Get report errors",
                "parameters": [
                    {"type": "string", "description": "Report job ID", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "Report errors", "schema": {"type": "object", "additionalProperties": true}},
                    "500": {"description": "Internal server error", "schema": {"type": "object", "additionalProperties": true}}
                }
            }
        },
        "/reports/{id}/logs": {
            "get": {
                "produces": ["application/json"],
                "tags": ["reports"],
                "summary": "Get report logs",
                "parameters": [
                    {"type": "string", "description": "Report job ID", "name": "id", "in": "path", "required": true},
                    {"type": "string", "description": "Only logs of this stage (collect, export, ...)", "name": "stage", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "Report logs", "schema": {"type": "object", "additionalProperties": true}},
                    "500": {"description": "Internal server error", "schema": {"type": "object", "additionalProperties": true}}
                }
            }
        },
        "/reports/{id}/metrics": {
            "get": {
                "produces": ["application/json"],
                "tags": ["reports"],
                "summary": "Get report metrics",
                "parameters": [
                    {"type": "string", "description": "Report job ID", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "Report metrics", "schema": {"type": "object", "additionalProperties": true}},
                    "404": {"description": "Report job not found", "schema": {"type": "object", "additionalProperties": true}},
                    "500": {"description": "Internal server error", "schema": {"type": "object", "additionalProperties": true}}
                }
            }
        },
        "/reports/{id}/retry": {
            "post": {
                "description": "Start a new job running the queries that had failures against the accounts that failed",
                "produces": ["application/json"],
                "tags": ["reports"],
                "summary": "Retry failed accounts",
                "parameters": [
                    {"type": "string", "description": "Report job ID", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "202": {"description": "Retry started", "schema": {"type": "object", "additionalProperties": true}},
                    "404": {"description": "Report job not found", "schema": {"type": "object", "additionalProperties": true}},
                    "409": {"description": "Report job still running or nothing to retry", "schema": {"type": "object", "additionalProperties": true}},
                    "500": {"description": "Internal server error", "schema": {"type": "object", "additionalProperties": true}}
                }
            }
        },
        "/reports/{id}/summaries": {
            "get": {
                "produces": ["application/json"],
                "tags": ["reports"],
                "summary": "Get report summaries",
                "parameters": [
                    {"type": "string", "description": "Report job ID", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "Batches with their summaries", "schema": {"type": "object", "additionalProperties": true}},
                    "404": {"description": "Report job not found", "schema": {"type": "object", "additionalProperties": true}},
                    "500": {"description": "Internal server error", "schema": {"type": "object", "additionalProperties": true}}
                }
            }
        }
    },
    "definitions": {
        "model.ConcurrencyConfig": {
            "type": "object",
            "properties": {
                "dispatchConcurrency": {"type": "integer"},
                "jobTimeout": {"type": "string"}
            }
        },
        "model.Export": {
            "type": "object",
            "properties": {
                "dir": {"type": "string"},
                "file": {"type": "string"},
                "rowsFile": {"type": "string"}
            }
        },
        "model.JobInfo": {
            "type": "object",
            "properties": {
                "createdAt": {"type": "string"},
                "id": {"type": "string"},
                "spec": {"$ref": "#/definitions/model.ReportJobSpec"},
                "status": {"type": "string"},
                "updatedAt": {"type": "string"}
            }
        },
        "model.ReportJobSpec": {
            "type": "object",
            "properties": {
                "accounts": {"type": "array", "items": {"type": "string"}},
                "concurrency": {"$ref": "#/definitions/model.ConcurrencyConfig"},
                "export": {"$ref": "#/definitions/model.Export"},
                "printRows": {"type": "boolean"},
                "queries": {"type": "array", "items": {"type": "string"}}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "localhost:8080",
	BasePath:         "/api/v1",
	Schemes:          []string{},
	Title:            "Report Pipeline API",
	Description:      "Runs search queries against many accounts in parallel and reports per-account results.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
