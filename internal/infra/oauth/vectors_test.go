package oauth

// Fixed vectors computed offline with openssl and an independent HMAC
// implementation against the keys under testdata/.
const (
	testConsumerKeyValue = "TESTCONS"
	testAccessToken      = "a1b2c3d4e5f6a7b8c9d0"
	testAccessSecretB64  = "EBESExQVFhcYGRobHB0eHyAhIiMkJSYnKCkqKywtLi8="
	testPrependHex       = "8f3a1c5e7d9b2f4a6c8e0a1b3d5f7092"
	testExpirationMillis = 1700003600000

	signatureKeyFile  = "testdata/signature_key.pem"
	encryptionKeyFile = "testdata/encryption_key.pem"

	// RFC 3526 group 14.
	testPrimeHex = "FFFFFFFFFFFFFFFFC90FDAA22168C234C4C6628B80DC1CD129024E088A67CC74" +
		"020BBEA63B139B22514A08798E3404DDEF9519B3CD3A431B302B0A6DF25F1437" +
		"4FE1356D6D51C245E485B576625E7EC6F44C42E9A637ED6B0BFF5CB6F406B7ED" +
		"EE386BFB5A899FA5AE9F24117C4B1FE649286651ECE45B3DC2007CB8A163BF05" +
		"98DA48361C55D39A69163FA8FD24CF5F83655D23DCA3AD961C62F356208552BB" +
		"9ED529077096966D670C354E4ABC9804F1746C08CA18217C32905E462E36CE3B" +
		"E39E772C180E86039B2783A2EC07A28FB5C55DF06F4C52C9DE2BCBF695581718" +
		"3995497CEA956AE515D2261898FA051015728E5A8AACAA68FFFFFFFFFFFFFFFF"

	// Broker private exponent used to produce the fixtures: 0x7777...7777 (32 bytes).
	testBrokerPrivateHex = "7777777777777777777777777777777777777777777777777777777777777777"

	goldenRSABase = "POST&https%3A%2F%2Fapi.ibkr.com%2Fv1%2Fapi%2Foauth%2Flive_sessio" +
		"n_token&diffie_hellman_challenge%3Dab12cd%26oauth_consumer_key%3" +
		"DTESTCONS%26oauth_nonce%3Dk9Xq2Lm4Np7Rs1Tv%26oauth_signature_met" +
		"hod%3DRSA-SHA256%26oauth_timestamp%3D1700000000%26oauth_token%3D" +
		"a1b2c3d4e5f6a7b8c9d0"
	goldenRSASignature = "BfxwyHJ0H7yUaDEn8pH0sccxh0p2w9Ez2qkHmLeOusM7uyNi6j9ppcK9iBv6Wh09" +
		"SaCmZJP77L/r2kOkUlnb5qOHH8MA+InavrOizA1UmNtfOvRlWx0KcIqoN2Fk1oOn" +
		"lHaLqEQSB4Qoz6gCsy/1iQE0JWAuV2nyHHwFh9s0PI9qkJzDMKiU9V3gtQM8Dvro" +
		"FwCB/QNJcihBU99jW5P3EjOB1eDBtv4+RdaVVKkuwlwyaVcDxzJixBEQkWgzhsHG" +
		"WTBldK4nvJryJrXxAXpenpZcO0/6LoGi7Z9ECNQ41hfQeJayFnHfqXNSXRhFQ+xL" +
		"MNAbq8etAcVfPO49S7AuMg=="

	goldenHMACTokenHex = "00112233445566778899aabbccddeeff0011223344556677"
	goldenHMACBase = "GET&https%3A%2F%2Fapi.ibkr.com%2Fv1%2Fapi%2Fiserver%2Fmarketdata" +
		"%2Fsnapshot&conids%3D265598%252C8314%26fields%3D31%252084~%252A%" +
		"26oauth_consumer_key%3DTESTCONS%26oauth_nonce%3DZq8Wm3Kd7Lp2Xc5V" +
		"%26oauth_signature_method%3DHMAC-SHA256%26oauth_timestamp%3D1700" +
		"000123%26oauth_token%3Da1b2c3d4e5f6a7b8c9d0"
	goldenHMACSignature = "n/5OI73W+5gJGEwghhKtdMGqkelJ8+L8301Ln31lIiU="

	// Public value from a reader of 264 bytes of 0x5a.
	goldenClientPublicHex = "acff57439ef7568afa719de1803f21e5e70b10797342d961b4ea40cbe0116daa" +
		"ea9b9989273da8fc5d8c067806ddcade6f528cda14a029ddf07608625b28c970" +
		"8566a7e8f17efc6edce1ba4c3cae4950987588aa961456f87af5e1c51d16fe57" +
		"d5b472333615f7e715a5c9960607cf2bb85c363c2c824781636a802e0c9ba893" +
		"ae3feb0a1831468383c596c8fb2e5a0429906245eafb940185c323d87adc1c54" +
		"4a29c014ffb976dff0e9cea82bfb8702387178db91dfb0005daa334d6988646b" +
		"32d0b550c47f3fb1a54e23a30d22cee5da56b2fc301506d940c9ffae73856718" +
		"80884d13859f31f43b237d5af7db173efa8c6ad001c9ea5e15774f05caf141ac"
	goldenBrokerPublicHex = "e8f3fdfdb7089b2f6444cc6b4ffc6da7006a13cd2c36b3562a5e63df781afddb" +
		"e6a72fa7c6ee767a5dbb7ad93b49ab5af24dc4c4bd39f1a8658e05ce5db03697" +
		"c7326ec4e1befb72a6567b4f84b7f8ceae956c85aba98e083873281a0052431c" +
		"cd6cc81c7d8b417bb802feafaf4752616047a7a088e2b99d2a9f21ddf81d3110" +
		"ca22f4a1ad355f0d0b076afbc529e835a90846bdc043ff912db5f95e2a14596e" +
		"54b85439321f7b349c821353fbf5997f2c26a55a9208c4ce193dea32654194cd" +
		"c73581eea8c02418f926292121c5b35098967344a6e3969498f086ff809fc99d" +
		"5f7cf0b4879bd5a70eee1891999ed549e2dbf2eb1dd2b41abbf90ec8905e7742"
	goldenSharedSecretHex = "62dda135a690550fba26b89e77964bfa5ba216967775b7bd8484f3ea02ede4a5" +
		"0afc0d3bd566014633d3f976b11d393f62e7ab00b8dfc7a4a4d6ea7b99b532dd" +
		"4aff43f18dd2e4ddc72d857a2fc8bb166614a003da110d594098ac7b5c4aeb1c" +
		"ffdddb5bf744bee9989e9cc45172d86b4793357009d273826b0d5b3ba928b7d9" +
		"809848208133b669abea07c38bebb7c64687ecbf7a50214948722946f19ea0e5" +
		"25f096a26bb19d9bc221a33b35368e2177c3257196b82c9cf7816550fb339fd7" +
		"ba50b9a3aa4d567282ecfbebcad65ab8d4d2924dfb61d53efa4f513a218666f4" +
		"5cf109cc24396fa152907b148df045529fb775e5ae890563620f108e80543f0b"
	goldenPrependCiphertext = "RyzgGSE1Duiptipa2qvMnlIt+78USXjtfbijL05zKgPrSo0kSBqj/RhzgFGoE/Oy" +
		"z7vzeQ9YVlW3yMFAGOWMfzFSeo0MhIOM7vs7phH1QZ5Q8jOrmNQXQ2I6aqjjzwUx" +
		"/gEEJCNmAKuAJXpQQKJl1wqMdAoPbdXUOCmd9z4HfQ+3MiFETn1ifmdQGm8oXtoI" +
		"eqwZX85pPYQubF5clsIwc+0Ih18kfwmGVlQnrc8bB6jdSnGTBmNZZATrMrO+qLVo" +
		"z8FO78eKJH8yU8hYUnOXJbAmrCBhZcooW6hYyqyqSG6DA5nlarFbeuBMwYBa704x" +
		"q1M056wU9bXHORRiNvzvow=="

	goldenLSTHex = "ccc15d6b519e76740fc58274d94e76cccf2644d949bbe3802ab29e0b13690e60"
	goldenLSTSignature = "9c8a4ed1ee8e722306587727dba62253665f906f188c65df2a813f29f4bcaca3"
	goldenLSTSignatureOtherConsumer = "f1c119d957abf0899ce48014b0a9278b52b134f1c472ed1dc1db4ff069fc7eb3"
	goldenDeriveSmallSharedHex = "4e9429fa8c899b83047daff3815d01b22e368880faf751bc55e7335438ffa07f"
)
