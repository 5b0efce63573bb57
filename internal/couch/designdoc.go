package couch

import "fmt"

// AuthDesignDoc builds the _design/auth document for the users database. View
// map functions are generated against the configured type field so deployments
// with a custom discriminator keep working.
func AuthDesignDoc(typeField string) *DesignDoc {
	if typeField == "" {
		typeField = "type"
	}
	guard := fmt.Sprintf("doc['%s'] === 'user'", typeField)
	return &DesignDoc{
		ID:       "_design/auth",
		Language: "javascript",
		Views: map[string]View{
			"username": {Map: fmt.Sprintf(
				"function (doc) {\n  if (%s) {\n    if (doc.username) {\n      emit(doc.username, null);\n    } else {\n      emit(doc._id, null);\n    }\n  }\n}", guard)},
			"email": {Map: fmt.Sprintf(
				"function (doc) {\n  if (%s && doc.email) {\n    emit(doc.email, null);\n  }\n}", guard)},
			"phone": {Map: fmt.Sprintf(
				"function (doc) {\n  if (%s && doc.phone) {\n    emit(doc.phone, null);\n  }\n}", guard)},
			"emailUsername": {Map: fmt.Sprintf(
				"function (doc) {\n  if (%s) {\n    if (doc.email) {\n      emit(doc.email, null);\n    }\n    if (doc.username && doc.username !== doc.email) {\n      emit(doc.username, null);\n    }\n  }\n}", guard)},
			"passwordReset": {Map: fmt.Sprintf(
				"function (doc) {\n  if (%s && doc.forgotPassword) {\n    emit(doc.forgotPassword.token, null);\n  }\n}", guard)},
			"verifyEmail": {Map: fmt.Sprintf(
				"function (doc) {\n  if (%s && doc.unverifiedEmail) {\n    emit(doc.unverifiedEmail.token, null);\n  }\n}", guard)},
			"session": {Map: fmt.Sprintf(
				"function (doc) {\n  if (%s && doc.session) {\n    for (var key in doc.session) {\n      emit(key, doc._id);\n    }\n  }\n}", guard)},
		},
	}
}
