// Package badger 提供基于 BadgerDB 的存储引擎实现
//
//	cfg := engine.DefaultConfig("/data/kadnode.db")
//	db, err := badger.New(cfg)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
package badger
