package tools

import (
	"net/http"
	"sync"
)

// ParamLocation says where a tool argument lands in the upstream request.
type ParamLocation string

const (
	// InPath substitutes the argument into the path template.
	InPath ParamLocation = "path"
	// InQuery adds the argument as a query parameter; empty values are
	// filtered out.
	InQuery ParamLocation = "query"
	// InBody collects the argument into the JSON request body.
	InBody ParamLocation = "body"
)

// ParamType is the JSON schema type advertised to the MCP client.
type ParamType string

const (
	TypeString  ParamType = "string"
	TypeNumber  ParamType = "number"
	TypeBoolean ParamType = "boolean"
)

// Param describes one tool argument and its mapping into the upstream call.
type Param struct {
	Name        string
	Location    ParamLocation
	Type        ParamType
	Required    bool
	Description string
}

// ToolSpec is one row of the tool table: a named MCP tool mapped to one
// upstream HTTP call. The router consumes these generically; no tool gets
// bespoke code.
type ToolSpec struct {
	Name        string
	Description string
	Method      string
	// PathTemplate is the upstream path with {param} placeholders for
	// InPath arguments, e.g. "/events/{event_id}".
	PathTemplate string
	Params       []Param
	// Write marks tools that mutate upstream state; they are skipped in
	// read-only mode.
	Write bool
}

// pagination is shared by every list tool.
var pagination = []Param{
	{Name: "page", Location: InQuery, Type: TypeNumber, Description: "Page number to fetch (1-based)"},
	{Name: "page_size", Location: InQuery, Type: TypeNumber, Description: "Number of results per page"},
}

// Catalog returns the TeamUp entity tool table. The entries are data;
// adding an upstream endpoint means adding a row, not a handler.
func Catalog() []ToolSpec {
	return []ToolSpec{
		// Events
		{
			Name:         "list_events",
			Description:  "List scheduled events (classes, appointments, courses)",
			Method:       http.MethodGet,
			PathTemplate: "/events",
			Params: append([]Param{
				{Name: "starts_after", Location: InQuery, Type: TypeString, Description: "Only events starting after this ISO 8601 timestamp"},
				{Name: "starts_before", Location: InQuery, Type: TypeString, Description: "Only events starting before this ISO 8601 timestamp"},
				{Name: "venue", Location: InQuery, Type: TypeString, Description: "Filter by venue id"},
			}, pagination...),
		},
		{
			Name:         "get_event",
			Description:  "Get one event by id",
			Method:       http.MethodGet,
			PathTemplate: "/events/{event_id}",
			Params: []Param{
				{Name: "event_id", Location: InPath, Type: TypeString, Required: true, Description: "Event id"},
			},
		},
		{
			Name:         "create_event",
			Description:  "Create a new event",
			Method:       http.MethodPost,
			PathTemplate: "/events",
			Write:        true,
			Params: []Param{
				{Name: "name", Location: InBody, Type: TypeString, Required: true, Description: "Event name"},
				{Name: "event_type", Location: InBody, Type: TypeString, Required: true, Description: "Event type id"},
				{Name: "starts_at", Location: InBody, Type: TypeString, Required: true, Description: "Start time, ISO 8601"},
				{Name: "ends_at", Location: InBody, Type: TypeString, Required: true, Description: "End time, ISO 8601"},
				{Name: "venue", Location: InBody, Type: TypeString, Description: "Venue id"},
				{Name: "capacity", Location: InBody, Type: TypeNumber, Description: "Maximum attendance"},
			},
		},
		{
			Name:         "update_event",
			Description:  "Update an existing event",
			Method:       http.MethodPatch,
			PathTemplate: "/events/{event_id}",
			Write:        true,
			Params: []Param{
				{Name: "event_id", Location: InPath, Type: TypeString, Required: true, Description: "Event id"},
				{Name: "name", Location: InBody, Type: TypeString, Description: "Event name"},
				{Name: "starts_at", Location: InBody, Type: TypeString, Description: "Start time, ISO 8601"},
				{Name: "ends_at", Location: InBody, Type: TypeString, Description: "End time, ISO 8601"},
				{Name: "capacity", Location: InBody, Type: TypeNumber, Description: "Maximum attendance"},
			},
		},
		{
			Name:         "delete_event",
			Description:  "Delete an event",
			Method:       http.MethodDelete,
			PathTemplate: "/events/{event_id}",
			Write:        true,
			Params: []Param{
				{Name: "event_id", Location: InPath, Type: TypeString, Required: true, Description: "Event id"},
			},
		},
		{
			Name:         "list_event_types",
			Description:  "List event types",
			Method:       http.MethodGet,
			PathTemplate: "/event-types",
			Params:       pagination,
		},

		// Customers
		{
			Name:         "list_customers",
			Description:  "List customers",
			Method:       http.MethodGet,
			PathTemplate: "/customers",
			Params: append([]Param{
				{Name: "search", Location: InQuery, Type: TypeString, Description: "Free-text search over name and email"},
			}, pagination...),
		},
		{
			Name:         "get_customer",
			Description:  "Get one customer by id",
			Method:       http.MethodGet,
			PathTemplate: "/customers/{customer_id}",
			Params: []Param{
				{Name: "customer_id", Location: InPath, Type: TypeString, Required: true, Description: "Customer id"},
			},
		},
		{
			Name:         "create_customer",
			Description:  "Create a new customer",
			Method:       http.MethodPost,
			PathTemplate: "/customers",
			Write:        true,
			Params: []Param{
				{Name: "first_name", Location: InBody, Type: TypeString, Required: true, Description: "First name"},
				{Name: "last_name", Location: InBody, Type: TypeString, Required: true, Description: "Last name"},
				{Name: "email", Location: InBody, Type: TypeString, Required: true, Description: "Email address"},
				{Name: "phone", Location: InBody, Type: TypeString, Description: "Phone number"},
			},
		},
		{
			Name:         "update_customer",
			Description:  "Update an existing customer",
			Method:       http.MethodPatch,
			PathTemplate: "/customers/{customer_id}",
			Write:        true,
			Params: []Param{
				{Name: "customer_id", Location: InPath, Type: TypeString, Required: true, Description: "Customer id"},
				{Name: "first_name", Location: InBody, Type: TypeString, Description: "First name"},
				{Name: "last_name", Location: InBody, Type: TypeString, Description: "Last name"},
				{Name: "email", Location: InBody, Type: TypeString, Description: "Email address"},
				{Name: "phone", Location: InBody, Type: TypeString, Description: "Phone number"},
			},
		},

		// Memberships
		{
			Name:         "list_memberships",
			Description:  "List membership plans offered by the provider",
			Method:       http.MethodGet,
			PathTemplate: "/memberships",
			Params:       pagination,
		},
		{
			Name:         "get_membership",
			Description:  "Get one membership plan by id",
			Method:       http.MethodGet,
			PathTemplate: "/memberships/{membership_id}",
			Params: []Param{
				{Name: "membership_id", Location: InPath, Type: TypeString, Required: true, Description: "Membership id"},
			},
		},
		{
			Name:         "list_customer_memberships",
			Description:  "List a customer's active and past memberships",
			Method:       http.MethodGet,
			PathTemplate: "/customers/{customer_id}/memberships",
			Params: append([]Param{
				{Name: "customer_id", Location: InPath, Type: TypeString, Required: true, Description: "Customer id"},
			}, pagination...),
		},
		{
			Name:         "create_customer_membership",
			Description:  "Assign a membership plan to a customer",
			Method:       http.MethodPost,
			PathTemplate: "/customers/{customer_id}/memberships",
			Write:        true,
			Params: []Param{
				{Name: "customer_id", Location: InPath, Type: TypeString, Required: true, Description: "Customer id"},
				{Name: "membership", Location: InBody, Type: TypeString, Required: true, Description: "Membership plan id"},
				{Name: "starts_on", Location: InBody, Type: TypeString, Description: "Start date, ISO 8601"},
			},
		},

		// Staff
		{
			Name:         "list_staff",
			Description:  "List staff members",
			Method:       http.MethodGet,
			PathTemplate: "/staff",
			Params:       pagination,
		},
		{
			Name:         "get_staff",
			Description:  "Get one staff member by id",
			Method:       http.MethodGet,
			PathTemplate: "/staff/{staff_id}",
			Params: []Param{
				{Name: "staff_id", Location: InPath, Type: TypeString, Required: true, Description: "Staff id"},
			},
		},

		// Venues
		{
			Name:         "list_venues",
			Description:  "List venues",
			Method:       http.MethodGet,
			PathTemplate: "/venues",
			Params:       pagination,
		},
		{
			Name:         "get_venue",
			Description:  "Get one venue by id",
			Method:       http.MethodGet,
			PathTemplate: "/venues/{venue_id}",
			Params: []Param{
				{Name: "venue_id", Location: InPath, Type: TypeString, Required: true, Description: "Venue id"},
			},
		},

		// Offerings and payments
		{
			Name:         "list_offerings",
			Description:  "List purchasable offerings (class packs, drop-ins)",
			Method:       http.MethodGet,
			PathTemplate: "/offerings",
			Params:       pagination,
		},
		{
			Name:         "list_payments",
			Description:  "List payments",
			Method:       http.MethodGet,
			PathTemplate: "/payments",
			Params: append([]Param{
				{Name: "customer", Location: InQuery, Type: TypeString, Description: "Filter by customer id"},
			}, pagination...),
		},
		{
			Name:         "get_payment",
			Description:  "Get one payment by id",
			Method:       http.MethodGet,
			PathTemplate: "/payments/{payment_id}",
			Params: []Param{
				{Name: "payment_id", Location: InPath, Type: TypeString, Required: true, Description: "Payment id"},
			},
		},

		// Attendance
		{
			Name:         "list_attendances",
			Description:  "List attendance records for an event",
			Method:       http.MethodGet,
			PathTemplate: "/events/{event_id}/attendances",
			Params: append([]Param{
				{Name: "event_id", Location: InPath, Type: TypeString, Required: true, Description: "Event id"},
			}, pagination...),
		},
		{
			Name:         "register_attendance",
			Description:  "Register a customer for an event",
			Method:       http.MethodPost,
			PathTemplate: "/events/{event_id}/attendances",
			Write:        true,
			Params: []Param{
				{Name: "event_id", Location: InPath, Type: TypeString, Required: true, Description: "Event id"},
				{Name: "customer", Location: InBody, Type: TypeString, Required: true, Description: "Customer id"},
			},
		},
		{
			Name:         "cancel_attendance",
			Description:  "Cancel a customer's attendance on an event",
			Method:       http.MethodDelete,
			PathTemplate: "/events/{event_id}/attendances/{attendance_id}",
			Write:        true,
			Params: []Param{
				{Name: "event_id", Location: InPath, Type: TypeString, Required: true, Description: "Event id"},
				{Name: "attendance_id", Location: InPath, Type: TypeString, Required: true, Description: "Attendance id"},
			},
		},

		// Custom fields
		{
			Name:         "list_customer_fields",
			Description:  "List the custom fields defined for customers",
			Method:       http.MethodGet,
			PathTemplate: "/customers/fields",
			Params:       pagination,
		},
	}
}

var (
	catalogOnce   sync.Once
	catalogByName map[string]ToolSpec
)

// Lookup finds a catalog entry by tool name. The index is built once on
// first use; the catalog is static after startup.
func Lookup(name string) (ToolSpec, bool) {
	catalogOnce.Do(func() {
		specs := Catalog()
		catalogByName = make(map[string]ToolSpec, len(specs))
		for _, spec := range specs {
			catalogByName[spec.Name] = spec
		}
	})
	spec, ok := catalogByName[name]
	return spec, ok
}
