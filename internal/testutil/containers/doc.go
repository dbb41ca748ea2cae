// Package containers provides testcontainer management for integration tests.
//
// It currently offers a MySQL 8.0 container used by the cache-store
// repository tests. Containers are managed from TestMain:
//
//	var mysqlContainer *containers.MySQLContainer
//
//	func TestMain(m *testing.M) {
//	    var err error
//	    mysqlContainer, err = containers.NewMySQLContainer(context.Background(), nil)
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    code := m.Run()
//	    _ = mysqlContainer.Terminate(context.Background())
//	    os.Exit(code)
//	}
//
// Integration tests using this package build with the "integration" tag:
//
//	go test -tags=integration ./...
package containers
