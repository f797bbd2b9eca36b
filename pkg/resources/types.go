package resources

import (
	"net/http"

	"github.com/openfroyo/orgsync/pkg/engine"
)

// Resource type tags.
const (
	Roles                      engine.ResourceType = "roles"
	Users                      engine.ResourceType = "users"
	SyntheticsPrivateLocations engine.ResourceType = "synthetics_private_locations"
	SyntheticsGlobalVariables  engine.ResourceType = "synthetics_global_variables"
	SyntheticsTests            engine.ResourceType = "synthetics_tests"
	Monitors                   engine.ResourceType = "monitors"
	Downtimes                  engine.ResourceType = "downtimes"
	Dashboards                 engine.ResourceType = "dashboards"
	DashboardLists             engine.ResourceType = "dashboard_lists"
	ServiceLevelObjectives     engine.ResourceType = "service_level_objectives"
	SLOCorrections             engine.ResourceType = "slo_corrections"
	LogsCustomPipelines        engine.ResourceType = "logs_custom_pipelines"
	LogsPipelinesOrder         engine.ResourceType = "logs_pipelines_order"
	HostTags                   engine.ResourceType = "host_tags"
)

func init() {
	Register(Roles, newRoles)
	Register(Users, newUsers)
	Register(Downtimes, newDowntimes)
	Register(ServiceLevelObjectives, newServiceLevelObjectives)
	Register(SLOCorrections, newSLOCorrections)
	Register(LogsCustomPipelines, newLogsCustomPipelines)
	Register(SyntheticsGlobalVariables, newSyntheticsGlobalVariables)
}

func newRoles() engine.Adapter {
	return newRESTAdapter(&engine.ResourceConfig{
		Type:     Roles,
		BasePath: "/api/v2/roles",
		ExcludedAttributes: []string{
			"id",
			"attributes.created_at",
			"attributes.modified_at",
			"attributes.user_count",
		},
	}, restSpec{
		ListKey:      "data",
		Envelope:     "data",
		UpdateMethod: http.MethodPatch,
		PageSize:     100,
		IDInPayload:  true,
		MatchBy:      "attributes.name",
	})
}

func newUsers() engine.Adapter {
	return newRESTAdapter(&engine.ResourceConfig{
		Type:     Users,
		BasePath: "/api/v2/users",
		Connections: map[engine.ResourceType][]string{
			Roles: {"relationships.roles.data.id"},
		},
		ExcludedAttributes: []string{
			"id",
			"attributes.created_at",
			"attributes.modified_at",
			"attributes.status",
			"attributes.verified",
			"attributes.icon",
			"attributes.service_account",
			"relationships.org",
			"relationships.other_orgs",
			"relationships.other_users",
		},
	}, restSpec{
		ListKey:      "data",
		Envelope:     "data",
		UpdateMethod: http.MethodPatch,
		PageSize:     100,
		IDInPayload:  true,
		MatchBy:      "attributes.handle",
		Skip: func(r engine.Record) bool {
			disabled, _ := nested(r, "attributes.disabled")
			return disabled == true
		},
	})
}

func newDowntimes() engine.Adapter {
	return newRESTAdapter(&engine.ResourceConfig{
		Type:     Downtimes,
		BasePath: "/api/v1/downtime",
		Connections: map[engine.ResourceType][]string{
			Monitors: {"monitor_id"},
		},
		ExcludedAttributes: []string{
			"id",
			"active",
			"canceled",
			"creator_id",
			"updater_id",
			"created",
			"modified",
			"downtime_type",
			"parent_id",
			"child_id",
			"uuid",
		},
		NonNullableAttributes: []string{"recurrence", "monitor_id"},
	}, restSpec{
		// canceled downtimes linger in the listing
		Skip: func(r engine.Record) bool {
			return r["canceled"] != nil
		},
	})
}

func newServiceLevelObjectives() engine.Adapter {
	return newRESTAdapter(&engine.ResourceConfig{
		Type:     ServiceLevelObjectives,
		BasePath: "/api/v1/slo",
		Connections: map[engine.ResourceType][]string{
			Monitors: {"monitor_ids"},
		},
		ExcludedAttributes: []string{
			"id",
			"creator",
			"created_at",
			"modified_at",
		},
	}, restSpec{
		ListKey:     "data",
		ResponseKey: "data",
	})
}

func newSLOCorrections() engine.Adapter {
	return newRESTAdapter(&engine.ResourceConfig{
		Type:     SLOCorrections,
		BasePath: "/api/v1/slo/correction",
		Connections: map[engine.ResourceType][]string{
			ServiceLevelObjectives: {"attributes.slo_id"},
		},
		ExcludedAttributes: []string{
			"id",
			"attributes.creator",
			"attributes.modifier",
			"attributes.created_at",
			"attributes.modified_at",
		},
	}, restSpec{
		ListKey:      "data",
		Envelope:     "data",
		UpdateMethod: http.MethodPatch,
	})
}

func newLogsCustomPipelines() engine.Adapter {
	return newRESTAdapter(&engine.ResourceConfig{
		Type:     LogsCustomPipelines,
		BasePath: "/api/v1/logs/config/pipelines",
		ExcludedAttributes: []string{
			"id",
			"type",
			"is_read_only",
		},
	}, restSpec{
		// integration pipelines are read-only and installed per account
		Skip: func(r engine.Record) bool {
			return truthy(r, "is_read_only")
		},
	})
}

func newSyntheticsGlobalVariables() engine.Adapter {
	return newRESTAdapter(&engine.ResourceConfig{
		Type:     SyntheticsGlobalVariables,
		BasePath: "/api/v1/synthetics/variables",
		ExcludedAttributes: []string{
			"id",
			"created_at",
			"modified_at",
			"created_by",
			"last_error",
		},
	}, restSpec{
		ListKey: "variables",
		// secure values are not readable and cannot be copied
		Skip: func(r engine.Record) bool {
			secure, _ := nested(r, "value.secure")
			return secure == true
		},
	})
}
