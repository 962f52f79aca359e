// Package customizer assembles the decorator stack over one or more leaf
// datasources and queues the customizations applied to it.
//
// A DatasourceCustomizer owns a Stack: a composite of leaves under one
// instance of every decorator layer, in a fixed order. Customizations are
// queued and run when Apply, Datasource or Reload drains the queue; a
// customization may queue more, and those run before its siblings.
//
//	dc := customizer.New(customizer.WithLogger(logger)).
//		AddDatasource(openLibrary).
//		Customize("book", func(c *customizer.CollectionCustomizer) {
//			c.ImportField("author_name", "author:last_name", true)
//		})
//	ds, err := dc.Datasource(ctx)
//
// Collections are addressed by their public name, after any collection
// rename.
package customizer
