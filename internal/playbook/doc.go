// Package playbook compiles CUE-authored playbook definitions into immutable
// step templates and validates step response payloads against them.
//
// A playbook is an ordered list of guided steps. Each step declares its
// payload schema (fields + required set) and an optional map routing payload
// fields into knowledge fields. Published template versions are frozen;
// changes ship as a new version under the same ID, and running journeys keep
// the version they started with.
//
// Authoring format:
//
//	playbook: {
//		id:      "foundations"
//		version: 1
//		name:    "Business Foundations"
//		purpose: "Establish identity, mission and market."
//		steps: [{
//			id:     "identity"
//			title:  "Company identity"
//			prompt: "What does your company do, and for whom?"
//			fields: {mission: string, vision: string}
//			requires: ["mission"]
//			map: {mission: "mission", vision: "vision"}
//		}]
//	}
//
// Compilation uses the CUE SDK's Go API and reports errors with file:line
// positions. Cross-step checks run after parsing: step IDs must be unique,
// requires and map entries must refer to declared fields, and map targets
// must be registered knowledge keys of a compatible kind.
package playbook
