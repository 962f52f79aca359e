// Package definition loads datasource definitions written in CUE and seed
// fixtures written in YAML.
//
// A definition declares collections and their fields. A field is a column
// (it has a type) or a relation (it has a relation kind):
//
//	collections: {
//		person: fields: {
//			id:         {type: "Number", primaryKey: true}
//			first_name: {type: "String"}
//		}
//		book: fields: {
//			id:        {type: "Uuid", primaryKey: true}
//			author_id: {type: "Number"}
//			author:    {relation: "ManyToOne", foreignCollection: "person", foreignKey: "author_id"}
//		}
//	}
//
// Column types are a primitive name, a one-element list for arrays
// (["String"]) or a struct for objects ({street: "String"}). Key targets
// that are left out default to primary keys. Validate reports relations
// whose collections or keys do not resolve.
package definition
